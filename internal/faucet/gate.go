package faucet

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"

	"github.com/totem-tech/messaging/internal/config"
	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/storage"
)

// Reply is the external faucet server's answer to one request.
type Reply struct {
	TxHash string
	Err    error
}

// Sender delivers a sealed frame to the external faucet server and returns
// its reply. Implemented by Client; tests substitute fakes.
type Sender interface {
	Send(ctx context.Context, sealed []byte) (Reply, error)
}

// requestPayload is the JSON document that gets signed and sealed.
type requestPayload struct {
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
}

// Gate enforces the per-user faucet policy and runs accepted requests through
// the sign-seal-send pipeline.
type Gate struct {
	cfg     config.FaucetConfig
	keys    *KeyRing
	history *storage.Collection[models.FaucetHistory]
	sender  Sender
	logger  *zap.Logger

	// external identifies the destination server: its box public key and the
	// name embedded in every frame.
	external     *[32]byte
	externalName string

	// mu serializes the read-modify-write of request histories.
	mu sync.Mutex
	// now is a seam for window tests.
	now func() time.Time
}

// NewGate creates a faucet gate. externalPublicKey must be the external
// server's 32-byte box public key.
func NewGate(
	cfg config.FaucetConfig,
	keys *KeyRing,
	externalName string,
	externalPublicKey []byte,
	history *storage.Collection[models.FaucetHistory],
	sender Sender,
	logger *zap.Logger,
) *Gate {
	external := new([32]byte)
	copy(external[:], externalPublicKey)
	return &Gate{
		cfg:          cfg,
		keys:         keys,
		external:     external,
		externalName: externalName,
		history:      history,
		sender:       sender,
		logger:       logger,
		now:          time.Now,
	}
}

// Request runs one faucet request for the user. It admits the request against
// the in-progress guard and the rolling window, records it, then signs, seals
// and sends the frame and settles the stored entry from the reply.
func (g *Gate) Request(ctx context.Context, userID, address string) (string, error) {
	if address == "" {
		return "", errors.NewInvalidPayload("address", "required")
	}

	requestedAt, err := g.admit(ctx, userID, address)
	if err != nil {
		return "", err
	}

	txHash, sendErr := g.send(ctx, address, requestedAt)

	status := models.FaucetFunded
	if sendErr != nil {
		status = models.FaucetFailed
	}
	if err := g.settle(ctx, userID, requestedAt, status, txHash); err != nil {
		g.logger.Error("failed to settle faucet request",
			zap.String("userId", userID), zap.Error(err))
	}

	if sendErr != nil {
		return "", sendErr
	}
	g.logger.Info("faucet request funded",
		zap.String("userId", userID), zap.String("txHash", txHash))
	return txHash, nil
}

// admit checks the in-progress guard and the rolling window, then records the
// new request as in progress. Returns the recorded timestamp.
func (g *Gate) admit(ctx context.Context, userID, address string) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()

	hist, _, err := g.history.Get(ctx, userID)
	if err != nil {
		return time.Time{}, errors.NewInternal("failed to load faucet history", err)
	}

	// An unfinished request blocks new ones until it times out; a timed-out
	// one is treated as failed and stops counting against the window.
	for i := range hist.Requests {
		entry := &hist.Requests[i]
		if entry.Status != models.FaucetInProgress {
			continue
		}
		if now.Sub(entry.Timestamp) < g.cfg.InProgressTimeout {
			return time.Time{}, errors.NewFaucetTransferInProgress()
		}
		entry.Status = models.FaucetFailed
	}

	// The window is measured from the oldest of the newest limit-many
	// non-failed requests.
	var counted []models.FaucetRequest
	for _, entry := range hist.Requests {
		if entry.Status != models.FaucetFailed {
			counted = append(counted, entry)
		}
	}
	if len(counted) >= g.cfg.RequestLimit {
		oldest := counted[len(counted)-g.cfg.RequestLimit]
		if now.Sub(oldest.Timestamp) < g.cfg.Window {
			return time.Time{}, errors.NewFaucetRequestLimitReached(g.cfg.RequestLimit)
		}
	}

	hist.Requests = append(hist.Requests, models.FaucetRequest{
		Address:   address,
		Timestamp: now,
		Status:    models.FaucetInProgress,
	})
	if extra := len(hist.Requests) - g.cfg.RequestLimit; extra > 0 {
		hist.Requests = hist.Requests[extra:]
	}

	if err := g.history.Set(ctx, userID, hist); err != nil {
		return time.Time{}, errors.NewInternal("failed to persist faucet history", err)
	}
	return now, nil
}

// send signs, self-verifies, seals and transmits one request.
func (g *Gate) send(ctx context.Context, address string, requestedAt time.Time) (string, error) {
	payload, err := json.Marshal(requestPayload{
		Address:   address,
		Timestamp: requestedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", errors.NewInternal("failed to encode faucet payload", err)
	}

	signed := sign.Sign(nil, payload, g.keys.SignSecret)
	signature := signed[:SignatureLen]

	// A signature that does not verify against our own public key means the
	// key material is corrupt; refuse to transmit.
	if opened, ok := sign.Open(nil, signed, g.keys.SignPublic); !ok || string(opened) != string(payload) {
		return "", errors.NewSignaturePreVerificationFailed()
	}

	frame, err := EncodeFrame(g.externalName, payload, signature)
	if err != nil {
		return "", errors.NewInternal("failed to encode faucet frame", err)
	}

	sealed, err := g.seal(frame)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.cfg.ReplyTimeout)
	defer cancel()

	reply, err := g.sender.Send(sendCtx, sealed)
	if err != nil {
		return "", errors.NewFaucetServerError(err)
	}
	if reply.Err != nil {
		return "", errors.NewFaucetServerError(reply.Err)
	}
	return reply.TxHash, nil
}

// seal encrypts a frame for the external server. The wire format is the fresh
// 24-byte nonce followed by the box ciphertext.
func (g *Gate) seal(frame []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.NewInternal("failed to generate nonce", err)
	}
	return box.Seal(nonce[:], frame, &nonce, g.external, g.keys.BoxSecret), nil
}

// settle updates the stored entry for the request recorded at requestedAt.
func (g *Gate) settle(ctx context.Context, userID string, requestedAt time.Time, status models.FaucetRequestStatus, txHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	hist, found, err := g.history.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	for i := range hist.Requests {
		if hist.Requests[i].Timestamp.Equal(requestedAt) {
			hist.Requests[i].Status = status
			hist.Requests[i].TxHash = txHash
			break
		}
	}
	return g.history.Set(ctx, userID, hist)
}
