package tracking

// Analytics event types.
const (
	EventGamePlayStart = "game_play_start"
	EventGamePlayEnd   = "game_play_end"
	// Reported by the synthetic handle used when a bundle exposes none.
	EventFallbackStart = "game_fallback_start"
	EventFallbackEnd   = "game_fallback_end"
)

// Envelope is the flat analytics event the backend ingests.
type Envelope struct {
	EventID    string      `json:"eventId"`
	TenantID   string      `json:"tenantId"`
	PlayerID   string      `json:"playerId"`
	EventType  string      `json:"eventType"`
	Timestamp  string      `json:"timestamp"`
	SessionID  string      `json:"sessionId,omitempty"`
	AppVersion string      `json:"appVersion"`
	Locale     string      `json:"locale"`
	Region     string      `json:"region"`
	Consent    *Consent    `json:"consent"`
	Payload    GamePayload `json:"payload"`
}

// Consent carries the player's tracking consent flags.
type Consent struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// GamePayload is the game-specific part of an envelope. DurationMs and
// FinalScore are nil until a session ends; zero is a real result.
type GamePayload struct {
	GameID           string `json:"gameId"`
	MiniGameType     string `json:"miniGameType,omitempty"`
	Difficulty       string `json:"difficulty,omitempty"`
	DurationMs       *int64 `json:"durationMs,omitempty"`
	FinalScore       *int   `json:"finalScore,omitempty"`
	CompletionStatus string `json:"completionStatus,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
}

// User is a hub player account.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// LoginResponse is returned by POST /api/auth/login.
type LoginResponse struct {
	Token string `json:"token"`
	// ExpiresAt is the token expiry, RFC 3339.
	ExpiresAt string `json:"expiresAt,omitempty"`
	User      User   `json:"user"`
}
