package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"
)

// -----------------------------------------------------------------------------
// Chat Relay
// -----------------------------------------------------------------------------

// The AI participant's wire identity.
const aiSenderID = "ai"

// chartToolName is the agent tool whose invocation carries an explicit
// chart request.
const chartToolName = "getStockPriceHistory"

// connState is the per-connection protocol state.
type connState int

const (
	stateAwaitingHandshake connState = iota
	stateActive
	stateClosed
)

// -----------------------------------------------------------------------------

// Relay consumes inbound session messages, drives the AI collaborator
// and re-emits a structured event stream through the registry.
type Relay struct {
	Config    *models.MConfig
	Logger    *logger.Logger
	Registry  *Registry
	Agent     interfaces.IAgent
	Market    interfaces.IMarketData
	Extractor *TickerExtractor

	histMu  sync.Mutex
	history map[string][]models.MTurn // keyed by user id
}

// -----------------------------------------------------------------------------

func NewRelay(cfg *models.MConfig, log *logger.Logger, registry *Registry, agent interfaces.IAgent, market interfaces.IMarketData) *Relay {
	return &Relay{
		Config:    cfg,
		Logger:    log,
		Registry:  registry,
		Agent:     agent,
		Market:    market,
		Extractor: NewTickerExtractor(cfg.MarketData.AllowedTickers),
		history:   make(map[string][]models.MTurn),
	}
}

// -----------------------------------------------------------------------------
// Per-Connection Loop
// -----------------------------------------------------------------------------

// Run owns one connection's inbound loop from handshake to teardown.
// It blocks until the transport closes or fails.
func (r *Relay) Run(transport interfaces.ITransport, userID string) {
	state := stateAwaitingHandshake
	var conn *Connection

	defer func() {
		transport.Close()
		// No leave notice for connections that never completed handshake
		if name, ok := r.Registry.Unregister(transport); ok {
			r.Registry.Broadcast(&models.MEvent{
				Type:      models.EvtSystem,
				Content:   fmt.Sprintf("%s left the chat", name),
				Users:     r.Registry.ListActive(),
				Timestamp: now(),
			}, nil)
		}
	}()

	for state != stateClosed {
		raw, err := transport.ReadMessage()
		if err != nil {
			state = stateClosed
			break
		}

		var msg models.MChatMessage
		decodeErr := json.Unmarshal(raw, &msg)

		switch state {
		case stateAwaitingHandshake:
			if decodeErr != nil || msg.Type != models.MsgJoin {
				// Everything before a well-formed join is rejected, but
				// the connection stays open for another attempt.
				transport.WriteJSON(&models.MEvent{
					Type:      models.EvtError,
					Error:     "join required before any other message",
					Timestamp: now(),
				})
				continue
			}

			conn, err = r.handleJoin(transport, userID, msg)
			if err != nil {
				r.Logger.Error("Handshake failed for user %s: %v", userID, err)
				state = stateClosed
				break
			}
			state = stateActive

		case stateActive:
			if decodeErr != nil {
				r.unicastError(conn, "malformed message")
				continue
			}
			if !msg.Type.Valid() {
				r.unicastError(conn, fmt.Sprintf("unknown message type %q", string(msg.Type)))
				continue
			}
			r.dispatch(conn, msg)
		}
	}
}

// -----------------------------------------------------------------------------

func (r *Relay) handleJoin(transport interfaces.ITransport, userID string, msg models.MChatMessage) (*Connection, error) {
	name := strings.TrimSpace(msg.Username)
	if name == "" {
		name = defaultDisplayName(userID)
	}

	conn, err := r.Registry.Register(transport, userID, name)
	if err != nil {
		return nil, err
	}

	r.Registry.Broadcast(&models.MEvent{
		Type:      models.EvtSystem,
		Content:   fmt.Sprintf("%s joined the chat", name),
		Users:     r.Registry.ListActive(),
		Timestamp: now(),
	}, nil)

	return conn, nil
}

// -----------------------------------------------------------------------------
// Active Dispatch
// -----------------------------------------------------------------------------

func (r *Relay) dispatch(conn *Connection, msg models.MChatMessage) {
	switch msg.Type {
	case models.MsgChat:
		r.handleChat(conn, msg)

	case models.MsgTyping:
		r.Registry.Broadcast(&models.MEvent{
			Type:       models.EvtTyping,
			SenderID:   conn.UserID,
			SenderName: conn.DisplayName,
			Timestamp:  now(),
		}, conn)

	case models.MsgChartRequest:
		r.handleChartRequest(conn, msg)

	case models.MsgJoin:
		r.unicastError(conn, "already joined")

	case models.MsgSystem, models.MsgError:
		// Server-originated kinds are not accepted from clients
		r.Logger.Debug("Ignoring client-sent %s message from %s", msg.Type, conn.ID)
	}
}

// -----------------------------------------------------------------------------

func (r *Relay) handleChat(conn *Connection, msg models.MChatMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	// Echo to everyone, sender included, so all clients agree on order
	r.Registry.Broadcast(&models.MEvent{
		Type:       models.EvtChat,
		SenderID:   conn.UserID,
		SenderName: conn.DisplayName,
		Content:    msg.Content,
		Timestamp:  now(),
	}, nil)

	if msg.AIToggle {
		r.runAITurn(conn, content)
	}
}

// -----------------------------------------------------------------------------

func (r *Relay) handleChartRequest(conn *Connection, msg models.MChatMessage) {
	ticker := strings.ToUpper(strings.TrimSpace(msg.Ticker))
	if !r.Extractor.Allowed(ticker) {
		r.unicastError(conn, fmt.Sprintf("ticker %q is not supported", msg.Ticker))
		return
	}

	timeframe := msg.Timeframe
	if timeframe == "" {
		timeframe = r.Config.MarketData.DefaultTimeframe
	}

	series := r.Market.Fetch(ticker, timeframe)
	r.Registry.Broadcast(&models.MEvent{
		Type:        models.EvtUpdateChart,
		RequestedBy: conn.ID,
		Data:        series,
		Timestamp:   now(),
	}, nil)
}

// -----------------------------------------------------------------------------
// AI Streaming Sub-Protocol
// -----------------------------------------------------------------------------

// runAITurn drives one AI exchange. Clients see, in order: an AI
// typing indicator, ai_stream tokens, tool_call transitions,
// ai_complete, then any chart_data enrichment. The chart arrives after
// the completion marker; it supplements the reply rather than being
// part of the stream.
func (r *Relay) runAITurn(conn *Connection, content string) {
	aiName := r.Config.Agent.DisplayName

	// 1. AI typing indicator
	r.Registry.Broadcast(&models.MEvent{
		Type:       models.EvtTyping,
		SenderID:   aiSenderID,
		SenderName: aiName,
		Timestamp:  now(),
	}, nil)

	userTurn := models.MTurn{Role: "user", Content: content, Username: conn.DisplayName}
	history := r.historyFor(conn.UserID)

	// In-flight turns deliberately outlive the triggering connection:
	// the surviving participants are watching the same stream.
	events, err := r.Agent.StreamTurn(context.Background(), history, userTurn)
	if err != nil {
		r.Logger.Error("Agent execution error: %v", err)
		r.Registry.Broadcast(&models.MEvent{
			Type:      models.EvtError,
			Error:     fmt.Sprintf("Agent execution error: %v", err),
			Timestamp: now(),
		}, nil)
		r.Registry.Broadcast(&models.MEvent{Type: models.EvtAIComplete, Timestamp: now()}, nil)
		return
	}

	var accumulated strings.Builder
	var chartTicker, chartTimeframe string

	// 2-3. Fan out the stream as it arrives; no batching, so clients
	// keep the incremental-typing effect.
	for event := range events {
		switch event.Kind {
		case models.AgentToken:
			accumulated.WriteString(event.Token)
			r.Registry.Broadcast(&models.MEvent{
				Type:       models.EvtAIStream,
				SenderID:   aiSenderID,
				SenderName: aiName,
				Content:    event.Token,
				Timestamp:  now(),
			}, nil)

		case models.AgentToolStarted, models.AgentToolCompleted:
			status := "started"
			if event.Kind == models.AgentToolCompleted {
				status = "completed"
			}
			r.Registry.Broadcast(&models.MEvent{
				Type:      models.EvtToolCall,
				Tool:      &models.MToolStatus{Name: event.Tool.Name, Status: status, Args: event.Tool.Args},
				Timestamp: now(),
			}, nil)

			if event.Kind == models.AgentToolStarted && event.Tool.Name == chartToolName {
				chartTicker = strings.ToUpper(event.Tool.Args["ticker"])
				chartTimeframe = event.Tool.Args["timeframe"]
			}
		}
	}

	// 4. End-of-turn marker
	r.Registry.Broadcast(&models.MEvent{Type: models.EvtAIComplete, Timestamp: now()}, nil)

	turnText := accumulated.String()
	r.appendHistory(conn.UserID, userTurn, models.MTurn{
		Role:     "assistant",
		Content:  turnText,
		Username: aiName,
	})

	// 5. Implicit chart trigger: scan the whole turn, AI reply first,
	// then the triggering message ("What about TSLA?" counts too)
	if chartTicker == "" {
		if ticker, ok := r.Extractor.Extract(turnText); ok {
			chartTicker = ticker
		} else if ticker, ok := r.Extractor.Extract(content); ok {
			chartTicker = ticker
		}
	}
	if chartTicker == "" {
		return
	}
	if chartTimeframe == "" {
		chartTimeframe = r.Config.MarketData.DefaultTimeframe
	}

	// 6. Chart enrichment degrades silently: the chart supplements the
	// response, it is not the response.
	series := r.Market.Fetch(chartTicker, chartTimeframe)
	if series.Error != "" {
		r.Logger.Warning("Chart enrichment for %s/%s failed: %s", chartTicker, chartTimeframe, series.Error)
		return
	}

	r.Registry.Broadcast(&models.MEvent{
		Type:        models.EvtChartData,
		RequestedBy: conn.ID,
		Data:        series,
		Timestamp:   now(),
	}, nil)
}

// -----------------------------------------------------------------------------
// Conversation History
// -----------------------------------------------------------------------------

func (r *Relay) historyFor(userID string) []models.MTurn {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	stored := r.history[userID]
	out := make([]models.MTurn, len(stored))
	copy(out, stored)
	return out
}

// -----------------------------------------------------------------------------

func (r *Relay) appendHistory(userID string, turns ...models.MTurn) {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	updated := append(r.history[userID], turns...)

	// Keep the most recent turns only (10 exchanges by default)
	if max := r.Config.Agent.MaxHistory; len(updated) > max {
		updated = updated[len(updated)-max:]
	}
	r.history[userID] = updated
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (r *Relay) unicastError(conn *Connection, message string) {
	if err := r.Registry.Unicast(&models.MEvent{
		Type:      models.EvtError,
		Error:     message,
		Timestamp: now(),
	}, conn); err != nil {
		r.Logger.Debug("Failed to deliver error to %s: %v", conn.ID, err)
	}
}

// -----------------------------------------------------------------------------

func defaultDisplayName(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "user-" + short
}
