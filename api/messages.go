package api

import (
	"encoding/json"
	"time"
)

// Inbound event names accepted over the WebSocket transport.
const (
	EventAnnounce           = "userConnected"
	EventUserAction         = "userAction"
	EventSliderSync         = "sliderMovement"
	EventRecommendation     = "recommendation"
	EventPing               = "ping"
	EventRequestUserStats   = "requestUserStats"
	EventRequestActiveUsers = "requestActiveUsers"
	EventRequestHistory     = "requestUserHistory"
	EventUserLeaving        = "userLeaving"
)

// Outbound event names produced by the broadcast router.
const (
	EventConnectionStatus       = "connectionStatus"
	EventUserCount              = "userCount"
	EventActiveUsers            = "activeUsers"
	EventUserActivity           = "userActivity"
	EventStateUpdate            = "stateUpdate"
	EventUserStats              = "userStats"
	EventUserHistory            = "userHistory"
	EventInitialRecommendations = "initialRecommendations"
	EventNewRecommendation      = "newRecommendation"
	EventPong                   = "pong"
	EventServerPing             = "serverPing"
	EventServerShutdown         = "serverShutdown"
	EventSubmitFailed           = "recommendationFailed"
)

// Throttle key kinds. A session may hold one timestamp per kind.
const (
	throttleKindSliderAdmit     = "slider"
	throttleKindSliderBroadcast = "broadcast_slider"
	throttleKindStateUpdate     = "state_update"
)

// ActionSlider is the continuous-input action type; everything else is
// treated as a discrete action and never throttled.
const ActionSlider = "slider"

// Envelope is the single wire frame used in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundEvent is a decoded client frame bound to its originating session.
type InboundEvent struct {
	Kind      string
	SessionID string
	Payload   json.RawMessage
}

// AnnouncePayload carries the client-chosen identity and descriptive fields.
type AnnouncePayload struct {
	UserID     string         `json:"userId"`
	Time       string         `json:"time,omitempty"`
	ClientInfo map[string]any `json:"clientInfo,omitempty"`
}

// UserActionPayload carries a user action; Type "slider" is continuous input.
type UserActionPayload struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId,omitempty"`
	Time    string         `json:"time,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SliderSyncPayload carries the full simulation state during a drag.
type SliderSyncPayload struct {
	Perception float64            `json:"perception"`
	Actions    map[string]float64 `json:"actions"`
	Timestamp  string             `json:"timestamp,omitempty"`
	UserID     string             `json:"userId,omitempty"`
}

// LeavingPayload is informational only; cleanup happens on transport close.
type LeavingPayload struct {
	UserID string `json:"userId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatusData acknowledges a successful connection to its owner.
type ConnectionStatusData struct {
	Connected bool   `json:"connected"`
	SocketID  string `json:"socketId"`
	UserID    string `json:"userId"`
}

// PongData answers a client ping.
type PongData struct {
	Timestamp   time.Time `json:"timestamp"`
	ActiveUsers int       `json:"activeUsers"`
}

// StateUpdateData wraps any state-changing event for coarse-grained listeners.
type StateUpdateData struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ShutdownData notifies clients of impending shutdown.
type ShutdownData struct {
	Message string `json:"message"`
}

// SubmitFailedData is the soft failure notice for a rejected persistence write.
type SubmitFailedData struct {
	Message string `json:"message"`
}
