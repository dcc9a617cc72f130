package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ApprovalResponseKind is the terminal state of an approval request.
type ApprovalResponseKind string

const (
	// ApprovalResponseApproved means a human approved the call.
	ApprovalResponseApproved ApprovalResponseKind = "approved"
	// ApprovalResponseDenied means a human denied the call.
	ApprovalResponseDenied ApprovalResponseKind = "denied"
	// ApprovalResponseTimedOut means no response arrived within the deadline.
	ApprovalResponseTimedOut ApprovalResponseKind = "timed_out"
)

// GateRequest is what the Approval Gate places on its outbound queue for a
// channel or HTTP handler to render to a human.
type GateRequest struct {
	ID          string    `json:"id"`
	ToolName    string    `json:"tool_name"`
	Args        string    `json:"args"`
	Reason      string    `json:"reason"`
	RiskLevel   int       `json:"risk_level"`
	Target      string    `json:"target"`
	IssuedAt    time.Time `json:"issued_at"`
	CallbackJWT string    `json:"callback_jwt,omitempty"`
}

// pendingGateEntry is the one-shot sink for a single outstanding request.
type pendingGateEntry struct {
	resultCh chan ApprovalResponseKind
	once     sync.Once
}

func (e *pendingGateEntry) resolve(kind ApprovalResponseKind) {
	e.once.Do(func() {
		e.resultCh <- kind
		close(e.resultCh)
	})
}

// ApprovalGate fences escalated tool calls: RequestApproval places an entry on an
// outbound queue and blocks the caller on a one-shot channel until a
// response arrives or the timeout elapses. Exactly one receiver consumes
// the outbound queue — it is taken once via TakeOutbound.
type ApprovalGate struct {
	mu          sync.Mutex
	pending     map[string]*pendingGateEntry
	outbound    chan GateRequest
	outboundSet bool
	jwtSecret   []byte
}

// NewApprovalGate creates an Approval Gate. jwtSecret signs callback tokens
// embedded in each GateRequest so a stateless HTTP responder can prove
// which request it is resolving without a shared session.
func NewApprovalGate(jwtSecret []byte) *ApprovalGate {
	return &ApprovalGate{
		pending:   make(map[string]*pendingGateEntry),
		outbound:  make(chan GateRequest, 256),
		jwtSecret: jwtSecret,
	}
}

// TakeOutbound returns the single outbound request channel. Calling it more
// than once returns an error — only one receiver may consume the queue.
func (g *ApprovalGate) TakeOutbound() (<-chan GateRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outboundSet {
		return nil, fmt.Errorf("approval gate outbound queue already taken")
	}
	g.outboundSet = true
	return g.outbound, nil
}

// RequestApproval issues an escalation and blocks until it resolves or
// timeoutSeconds elapses.
func (g *ApprovalGate) RequestApproval(ctx context.Context, toolName, argsText, reason string, riskLevel int, target string, timeoutSeconds int) (ApprovalResponseKind, error) {
	id := uuid.NewString()
	entry := &pendingGateEntry{resultCh: make(chan ApprovalResponseKind, 1)}

	g.mu.Lock()
	g.pending[id] = entry
	g.mu.Unlock()

	req := GateRequest{
		ID:        id,
		ToolName:  toolName,
		Args:      argsText,
		Reason:    reason,
		RiskLevel: riskLevel,
		Target:    target,
		IssuedAt:  time.Now(),
	}
	if len(g.jwtSecret) > 0 {
		if tok, err := g.signCallbackToken(id); err == nil {
			req.CallbackJWT = tok
		}
	}

	select {
	case g.outbound <- req:
	default:
		// Outbound queue full or no receiver yet; request remains
		// pending and will still time out normally.
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.resultCh:
		return result, nil
	case <-timer.C:
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		entry.resolve(ApprovalResponseTimedOut)
		return ApprovalResponseTimedOut, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return ApprovalResponseTimedOut, ctx.Err()
	}
}

// Resolve delivers a human decision for a pending request id. Resolving an
// unknown or already-resolved id is a no-op that returns an error.
func (g *ApprovalGate) Resolve(id string, approved bool) error {
	g.mu.Lock()
	entry, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval request %s not found (already resolved or unknown)", id)
	}
	kind := ApprovalResponseDenied
	if approved {
		kind = ApprovalResponseApproved
	}
	entry.resolve(kind)
	return nil
}

// PendingCount reports how many approvals are currently outstanding.
func (g *ApprovalGate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

type approvalClaims struct {
	RequestID string `json:"request_id"`
	jwt.RegisteredClaims
}

func (g *ApprovalGate) signCallbackToken(requestID string) (string, error) {
	claims := approvalClaims{
		RequestID: requestID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.jwtSecret)
}

// VerifyCallbackToken validates a callback JWT and returns the request id
// it authorizes resolution of.
func (g *ApprovalGate) VerifyCallbackToken(tokenStr string) (string, error) {
	claims := &approvalClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return g.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid approval callback token: %w", err)
	}
	return claims.RequestID, nil
}
