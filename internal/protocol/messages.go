package protocol

// Request/reply subjects served by the gate.
const (
	SubjectUserGet     = "voice.user.get"
	SubjectSynthWAV    = "voice.synth.wav"
	SubjectSynthOpus   = "voice.synth.opus"
	SubjectTokenRotate = "voice.token.rotate"
)

// Client-facing error codes. Engine and store detail stays server-side; the
// caller only ever sees CodeInternal for those.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeQuotaExceeded  = "quota_exceeded"
	CodeInternal       = "internal"
)

// ErrorInfo is the error half of every response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SynthRequest asks for speech synthesis of Text on UserID's quota.
type SynthRequest struct {
	Text   string `json:"text"`
	UserID int64  `json:"id"`
	Token  string `json:"token"`
}

// UserRequest fetches the caller's user record.
type UserRequest struct {
	UserID int64  `json:"id"`
	Token  string `json:"token"`
}

// RotateRequest exchanges the current token for a fresh one.
type RotateRequest struct {
	UserID int64  `json:"id"`
	Token  string `json:"token"`
}

type UserRecord struct {
	ID             int64 `json:"id"`
	AccountStatus  int32 `json:"account_status"`
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

type UserResponse struct {
	User  *UserRecord `json:"user,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
}

// SynthWAVResponse carries the raw audio container.
type SynthWAVResponse struct {
	Audio []byte     `json:"audio,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// SynthOpusResponse carries the ordered compressed frames.
type SynthOpusResponse struct {
	Frames [][]byte   `json:"data,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

type RotateResponse struct {
	Token string     `json:"token,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}
