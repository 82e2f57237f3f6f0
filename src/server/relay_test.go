package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

// scriptedTransport replays a fixed inbound script, then reports the
// client as disconnected. Writes are recorded like recordingTransport.
type scriptedTransport struct {
	recordingTransport
	inbound chan []byte
}

func newScriptedTransport(messages ...interface{}) *scriptedTransport {
	t := &scriptedTransport{
		recordingTransport: *newRecordingTransport(),
		inbound:            make(chan []byte, len(messages)),
	}
	for _, m := range messages {
		raw, ok := m.([]byte)
		if !ok {
			raw, _ = json.Marshal(m)
		}
		t.inbound <- raw
	}
	close(t.inbound)
	return t
}

func (t *scriptedTransport) ReadMessage() ([]byte, error) {
	msg, ok := <-t.inbound
	if !ok {
		return nil, errors.New("client disconnected")
	}
	return msg, nil
}

// -----------------------------------------------------------------------------

// stubAgent emits a scripted token stream, optionally wrapped in a
// chart tool invocation.
type stubAgent struct {
	tokens []string
	tool   *models.MToolCall
	err    error
}

func (a *stubAgent) StreamTurn(_ context.Context, _ []models.MTurn, _ models.MTurn) (<-chan models.MAgentEvent, error) {
	if a.err != nil {
		return nil, a.err
	}

	ch := make(chan models.MAgentEvent, len(a.tokens)+2)
	if a.tool != nil {
		ch <- models.MAgentEvent{Kind: models.AgentToolStarted, Tool: *a.tool}
	}
	for _, token := range a.tokens {
		ch <- models.MAgentEvent{Kind: models.AgentToken, Token: token}
	}
	if a.tool != nil {
		ch <- models.MAgentEvent{Kind: models.AgentToolCompleted, Tool: *a.tool}
	}
	close(ch)
	return ch, nil
}

// -----------------------------------------------------------------------------

// stubMarket serves a canned series and records what was asked for.
type stubMarket struct {
	requests []string
	failWith string
}

func (m *stubMarket) Fetch(ticker, timeframe string) *models.MSeries {
	m.requests = append(m.requests, ticker+"/"+timeframe)
	if m.failWith != "" {
		return &models.MSeries{Ticker: ticker, Timeframe: timeframe, Error: m.failWith}
	}
	return &models.MSeries{
		Ticker:    ticker,
		Timeframe: timeframe,
		Source:    "synthetic",
		Points: []models.MSeriesPoint{
			{Timestamp: 1718064000000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1_000_000},
		},
	}
}

// -----------------------------------------------------------------------------

func testConfig() *models.MConfig {
	return &models.MConfig{
		Name:     "finance-relay",
		Host:     "127.0.0.1",
		Port:     8000,
		LogLevel: "ERROR",
		Agent: models.MAgentConfig{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash",
			DisplayName: "FinanceGPT",
			MaxHistory:  20,
		},
		MarketData: models.MMarketDataConfig{
			Provider:         "polygon",
			DefaultTimeframe: "1M",
			AllowedTickers:   []string{"AAPL", "MSFT", "TSLA", "NVDA"},
		},
	}
}

func newTestRelay(agent interfaces.IAgent, market interfaces.IMarketData) *Relay {
	log := logger.NewLogger("ERROR", "test")
	return NewRelay(testConfig(), log, NewRegistry(log), agent, market)
}

func joinMsg(username string) models.MChatMessage {
	return models.MChatMessage{Type: models.MsgJoin, Username: username}
}

// settledEvents waits for the write pump to finish draining after the
// relay loop has returned, then snapshots what the client saw.
func settledEvents(tr *recordingTransport) []*models.MEvent {
	prev := -1
	for {
		cur := len(tr.events())
		if cur == prev {
			return tr.events()
		}
		prev = cur
		time.Sleep(20 * time.Millisecond)
	}
}

// -----------------------------------------------------------------------------
// Handshake
// -----------------------------------------------------------------------------

func TestRelay_RejectsMessagesBeforeJoin(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})
	transport := newScriptedTransport(
		models.MChatMessage{Type: models.MsgChat, Content: "hello"},
		joinMsg("alice"),
	)

	relay.Run(transport, "u1")

	events := settledEvents(&transport.recordingTransport)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EvtError, events[0].Type, "pre-join chat must be rejected")
	assert.Contains(t, events[0].Error, "join required")
	assert.Equal(t, 0, relay.Registry.Count(), "connection should be unregistered after disconnect")
}

// -----------------------------------------------------------------------------

func TestRelay_JoinBroadcastsRosterAndDisconnectNotice(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})

	observer := newRecordingTransport()
	_, err := relay.Registry.Register(observer, "u0", "observer")
	require.NoError(t, err)

	transport := newScriptedTransport(joinMsg("alice"))
	relay.Run(transport, "u1")

	events := waitForEvents(t, observer, 2)
	assert.Equal(t, models.EvtSystem, events[0].Type)
	assert.Contains(t, events[0].Content, "alice joined")
	require.Len(t, events[0].Users, 2, "join notice should carry the full roster")

	assert.Equal(t, models.EvtSystem, events[1].Type)
	assert.Contains(t, events[1].Content, "alice left")
	require.Len(t, events[1].Users, 1, "leave notice roster excludes the departed user")
}

// -----------------------------------------------------------------------------

func TestRelay_DefaultDisplayName(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})

	observer := newRecordingTransport()
	_, err := relay.Registry.Register(observer, "u0", "observer")
	require.NoError(t, err)

	transport := newScriptedTransport(models.MChatMessage{Type: models.MsgJoin})
	relay.Run(transport, "123456789abc")

	events := waitForEvents(t, observer, 1)
	assert.Contains(t, events[0].Content, "user-12345678 joined")
}

// -----------------------------------------------------------------------------
// Chat and Typing
// -----------------------------------------------------------------------------

func TestRelay_ChatEchoedVerbatimToEveryone(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})

	observer := newRecordingTransport()
	_, err := relay.Registry.Register(observer, "u0", "observer")
	require.NoError(t, err)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "  hello everyone  "},
	)
	relay.Run(transport, "u1")

	// Sender sees its own message too
	var senderChat *models.MEvent
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtChat {
			senderChat = e
		}
	}
	require.NotNil(t, senderChat, "sender must receive the chat echo")
	assert.Equal(t, "  hello everyone  ", senderChat.Content, "content is relayed verbatim")
	assert.Equal(t, "alice", senderChat.SenderName)

	events := waitForEvents(t, observer, 2)
	assert.Equal(t, models.EvtChat, events[1].Type)
}

// -----------------------------------------------------------------------------

func TestRelay_BlankChatIgnored(t *testing.T) {
	market := &stubMarket{}
	relay := newTestRelay(&stubAgent{tokens: []string{"hi"}}, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "   ", AIToggle: true},
	)
	relay.Run(transport, "u1")

	for _, e := range settledEvents(&transport.recordingTransport) {
		assert.NotEqual(t, models.EvtChat, e.Type, "whitespace-only chat must not be relayed")
		assert.NotEqual(t, models.EvtAIStream, e.Type, "whitespace-only chat must not reach the agent")
	}
}

// -----------------------------------------------------------------------------

func TestRelay_TypingExcludesSender(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})

	observer := newRecordingTransport()
	_, err := relay.Registry.Register(observer, "u0", "observer")
	require.NoError(t, err)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgTyping},
	)
	relay.Run(transport, "u1")

	for _, e := range settledEvents(&transport.recordingTransport) {
		assert.NotEqual(t, models.EvtTyping, e.Type, "sender must not see its own typing indicator")
	}

	events := waitForEvents(t, observer, 2)
	assert.Equal(t, models.EvtTyping, events[1].Type)
	assert.Equal(t, "alice", events[1].SenderName)
}

// -----------------------------------------------------------------------------
// AI Turn
// -----------------------------------------------------------------------------

func TestRelay_AITurnStreamsAndEnrichesChart(t *testing.T) {
	agent := &stubAgent{tokens: []string{"TSLA ", "stock ", "looks ", "strong."}}
	market := &stubMarket{}
	relay := newTestRelay(agent, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "What do you think of Tesla?", AIToggle: true},
	)
	relay.Run(transport, "u1")

	var sawChat, sawAITyping, sawComplete bool
	var tokens []string
	var chart *models.MEvent

	for _, e := range settledEvents(&transport.recordingTransport) {
		switch e.Type {
		case models.EvtChat:
			sawChat = true
		case models.EvtTyping:
			if e.SenderID == "ai" {
				sawAITyping = true
				assert.Equal(t, "FinanceGPT", e.SenderName)
			}
		case models.EvtAIStream:
			assert.False(t, sawComplete, "no tokens after the completion marker")
			tokens = append(tokens, e.Content)
		case models.EvtAIComplete:
			sawComplete = true
		case models.EvtChartData:
			chart = e
		}
	}

	assert.True(t, sawChat)
	assert.True(t, sawAITyping, "AI typing indicator should precede the stream")
	assert.Equal(t, []string{"TSLA ", "stock ", "looks ", "strong."}, tokens)
	assert.True(t, sawComplete)

	// Implicit extraction found TSLA in the accumulated reply
	require.NotNil(t, chart, "chart_data should follow the turn")
	require.NotNil(t, chart.Data)
	assert.Equal(t, "TSLA", chart.Data.Ticker)
	assert.NotEmpty(t, chart.Data.Points)
	assert.Equal(t, []string{"TSLA/1M"}, market.requests, "implicit trigger uses the default timeframe")
}

// -----------------------------------------------------------------------------

func TestRelay_ImplicitTriggerFallsBackToUserMessage(t *testing.T) {
	// The reply itself never names the symbol
	agent := &stubAgent{tokens: []string{"It ", "has ", "been ", "volatile ", "lately."}}
	market := &stubMarket{}
	relay := newTestRelay(agent, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "What about TSLA?", AIToggle: true},
	)
	relay.Run(transport, "u1")

	var chart *models.MEvent
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtChartData {
			chart = e
		}
	}
	require.NotNil(t, chart, "the triggering message is part of the turn and is scanned too")
	assert.Equal(t, "TSLA", chart.Data.Ticker)
}

// -----------------------------------------------------------------------------

func TestRelay_AIToolCallDrivesChart(t *testing.T) {
	agent := &stubAgent{
		tokens: []string{"Here ", "is ", "the ", "chart."},
		tool: &models.MToolCall{
			Name: "getStockPriceHistory",
			Args: map[string]string{"ticker": "nvda", "timeframe": "3M"},
		},
	}
	market := &stubMarket{}
	relay := newTestRelay(agent, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "Chart NVDA please", AIToggle: true},
	)
	relay.Run(transport, "u1")

	var toolStatuses []string
	var chart *models.MEvent
	for _, e := range settledEvents(&transport.recordingTransport) {
		switch e.Type {
		case models.EvtToolCall:
			toolStatuses = append(toolStatuses, e.Tool.Status)
		case models.EvtChartData:
			chart = e
		}
	}

	assert.Equal(t, []string{"started", "completed"}, toolStatuses)
	require.NotNil(t, chart)
	assert.Equal(t, "NVDA", chart.Data.Ticker, "tool args are uppercased")
	assert.Equal(t, []string{"NVDA/3M"}, market.requests, "tool timeframe wins over the default")
}

// -----------------------------------------------------------------------------

func TestRelay_AIFailureBroadcastsErrorAndCompletes(t *testing.T) {
	agent := &stubAgent{err: errors.New("missing api key")}
	relay := newTestRelay(agent, &stubMarket{})

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "hello", AIToggle: true},
	)
	relay.Run(transport, "u1")

	var sawError, sawComplete bool
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtError {
			sawError = true
			assert.Contains(t, e.Error, "missing api key")
		}
		if e.Type == models.EvtAIComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawError, "agent failure surfaces as an error event")
	assert.True(t, sawComplete, "a failed turn still terminates with ai_complete")
}

// -----------------------------------------------------------------------------

func TestRelay_ChartEnrichmentDegradesSilently(t *testing.T) {
	agent := &stubAgent{tokens: []string{"AAPL ", "stock ", "update."}}
	market := &stubMarket{failWith: "market data unavailable"}
	relay := newTestRelay(agent, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChat, Content: "How is Apple doing?", AIToggle: true},
	)
	relay.Run(transport, "u1")

	var sawComplete bool
	for _, e := range settledEvents(&transport.recordingTransport) {
		assert.NotEqual(t, models.EvtChartData, e.Type, "a failed fetch must not emit chart data")
		if e.Type == models.EvtAIComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete, "the AI turn itself is unaffected by the chart failure")
	assert.Equal(t, []string{"AAPL/1M"}, market.requests)
}

// -----------------------------------------------------------------------------

func TestRelay_HistoryCapped(t *testing.T) {
	agent := &stubAgent{tokens: []string{"ok"}}
	relay := newTestRelay(agent, &stubMarket{})
	relay.Config.Agent.MaxHistory = 4

	script := []interface{}{joinMsg("alice")}
	for i := 0; i < 5; i++ {
		script = append(script, models.MChatMessage{Type: models.MsgChat, Content: "turn", AIToggle: true})
	}
	transport := newScriptedTransport(script...)
	relay.Run(transport, "u1")

	history := relay.historyFor("u1")
	require.Len(t, history, 4, "history is capped at max_history turns")
	// Newest entries survive, oldest are evicted
	assert.Equal(t, "assistant", history[len(history)-1].Role)
}

// -----------------------------------------------------------------------------
// Explicit Chart Requests
// -----------------------------------------------------------------------------

func TestRelay_ChartRequestBroadcast(t *testing.T) {
	market := &stubMarket{}
	relay := newTestRelay(&stubAgent{}, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChartRequest, Ticker: "msft", Timeframe: "1Y"},
	)
	relay.Run(transport, "u1")

	var update *models.MEvent
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtUpdateChart {
			update = e
		}
	}
	require.NotNil(t, update)
	assert.Equal(t, "MSFT", update.Data.Ticker)
	assert.NotEmpty(t, update.RequestedBy)
	assert.Equal(t, []string{"MSFT/1Y"}, market.requests)
}

// -----------------------------------------------------------------------------

func TestRelay_ChartRequestRejectsUnknownTicker(t *testing.T) {
	market := &stubMarket{}
	relay := newTestRelay(&stubAgent{}, market)

	transport := newScriptedTransport(
		joinMsg("alice"),
		models.MChatMessage{Type: models.MsgChartRequest, Ticker: "XYZQ"},
	)
	relay.Run(transport, "u1")

	var rejection *models.MEvent
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtError {
			rejection = e
		}
	}
	require.NotNil(t, rejection, "unknown tickers get a user-visible error")
	assert.Contains(t, rejection.Error, "XYZQ")
	assert.Empty(t, market.requests, "rejected tickers never reach the fetcher")
}

// -----------------------------------------------------------------------------

func TestRelay_MalformedMessageReported(t *testing.T) {
	relay := newTestRelay(&stubAgent{}, &stubMarket{})

	transport := newScriptedTransport(
		joinMsg("alice"),
		[]byte("{not json"),
		models.MChatMessage{Type: "bogus"},
	)
	relay.Run(transport, "u1")

	var errorMessages []string
	for _, e := range settledEvents(&transport.recordingTransport) {
		if e.Type == models.EvtError {
			errorMessages = append(errorMessages, e.Error)
		}
	}
	require.Len(t, errorMessages, 2, "malformed payload and unknown type each get an error")
	assert.Contains(t, errorMessages[0], "malformed")
	assert.Contains(t, errorMessages[1], `unknown message type "bogus"`)
}
