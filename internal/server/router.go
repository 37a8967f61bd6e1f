package server

import (
	"context"
	"encoding/json"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/records"
)

// requestEnvelope is one client request.
type requestEnvelope struct {
	ID    uint64            `json:"id"`
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// responseEnvelope is the reply to one request. Error carries the stable
// error code and Message the client-safe text; both are omitted on success.
type responseEnvelope struct {
	ID      uint64        `json:"id"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
	Results []interface{} `json:"results"`
}

// pushEnvelope is a server-initiated event, distinguished by id 0.
type pushEnvelope struct {
	ID    uint64        `json:"id"`
	Event string        `json:"event"`
	Args  []interface{} `json:"args"`
}

// handlerFunc processes one decoded request on the connection's goroutine.
type handlerFunc func(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error)

// routes builds the closed event set. Unknown events are rejected by dispatch.
func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"register":           s.handleRegister,
		"login":              s.handleLogin,
		"id-exists":          s.handleIDExists,
		"message":            s.handleMessage,
		"notification":       s.handleNotification,
		"faucet-request":     s.handleFaucetRequest,
		"company":            s.handleCompany,
		"company-search":     s.handleCompanySearch,
		"project":            s.handleProject,
		"project-status":     s.handleProjectStatus,
		"projects":           s.handleProjects,
		"projects-by-hashes": s.handleProjectsByHashes,
		"time-keeping":       s.handleTimeKeeping,
	}
}

// decodeArg decodes the i-th argument into T.
func decodeArg[T any](args []json.RawMessage, i int, name string) (T, error) {
	var value T
	if i >= len(args) {
		return value, errors.NewInvalidPayload(name, "missing argument")
	}
	if err := json.Unmarshal(args[i], &value); err != nil {
		return value, errors.NewInvalidPayload(name, "malformed argument")
	}
	return value, nil
}

// authedUser resolves the user bound to the connection, or fails the request.
func (s *Server) authedUser(conn *Conn) (string, error) {
	userID, ok := s.sessions.UserByConn(conn.id)
	if !ok {
		return "", errors.NewAuthRequired()
	}
	return userID, nil
}

func (s *Server) handleRegister(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	handle, err := decodeArg[string](args, 0, "id")
	if err != nil {
		return nil, err
	}
	secret, err := decodeArg[string](args, 1, "secret")
	if err != nil {
		return nil, err
	}
	return nil, s.services.Directory.Register(ctx, handle, secret, conn.id)
}

func (s *Server) handleLogin(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	handle, err := decodeArg[string](args, 0, "id")
	if err != nil {
		return nil, err
	}
	secret, err := decodeArg[string](args, 1, "secret")
	if err != nil {
		return nil, err
	}
	return nil, s.services.Directory.Login(ctx, handle, secret, conn.id)
}

func (s *Server) handleIDExists(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	handle, err := decodeArg[string](args, 0, "id")
	if err != nil {
		return nil, err
	}
	exists, err := s.services.Directory.IDExists(ctx, handle)
	if err != nil {
		return nil, err
	}
	return []interface{}{exists, handle}, nil
}

func (s *Server) handleMessage(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	text, err := decodeArg[string](args, 0, "message")
	if err != nil {
		return nil, err
	}
	return nil, s.services.Relay.Send(ctx, conn.id, text)
}

func (s *Server) handleNotification(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	senderID, err := s.authedUser(conn)
	if err != nil {
		return nil, err
	}
	recipients, err := decodeArg[[]string](args, 0, "recipients")
	if err != nil {
		return nil, err
	}
	parent, err := decodeArg[string](args, 1, "type")
	if err != nil {
		return nil, err
	}
	child, err := decodeArg[string](args, 2, "childType")
	if err != nil {
		return nil, err
	}
	message, err := decodeArg[string](args, 3, "message")
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if len(args) > 4 {
		if data, err = decodeArg[map[string]interface{}](args, 4, "data"); err != nil {
			return nil, err
		}
	}
	return nil, s.services.Notifier.Notify(ctx, senderID, recipients, parent, child, message, data)
}

func (s *Server) handleFaucetRequest(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	userID, err := s.authedUser(conn)
	if err != nil {
		return nil, err
	}
	address, err := decodeArg[string](args, 0, "address")
	if err != nil {
		return nil, err
	}
	txHash, err := s.services.Faucet.Request(ctx, userID, address)
	if err != nil {
		return nil, err
	}
	return []interface{}{txHash}, nil
}

// handleCompany reads a company with one argument, creates one with two.
func (s *Server) handleCompany(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	walletAddress, err := decodeArg[string](args, 0, "walletAddress")
	if err != nil {
		return nil, err
	}

	if len(args) < 2 {
		company, err := s.services.Companies.Get(ctx, walletAddress)
		if err != nil {
			return nil, err
		}
		return []interface{}{company}, nil
	}

	if _, err := s.authedUser(conn); err != nil {
		return nil, err
	}
	company, err := decodeArg[models.Company](args, 1, "company")
	if err != nil {
		return nil, err
	}
	company.WalletAddress = walletAddress
	return nil, s.services.Companies.Create(ctx, company)
}

func (s *Server) handleCompanySearch(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	criteria, err := decodeArg[map[string]string](args, 0, "criteria")
	if err != nil {
		return nil, err
	}
	items, err := s.services.Companies.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}
	companies := make(map[string]models.Company, len(items))
	for _, item := range items {
		companies[item.Key] = item.Value
	}
	return []interface{}{companies}, nil
}

func (s *Server) handleProject(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	if _, err := s.authedUser(conn); err != nil {
		return nil, err
	}
	hash, err := decodeArg[string](args, 0, "hash")
	if err != nil {
		return nil, err
	}
	input, err := decodeArg[records.ProjectInput](args, 1, "project")
	if err != nil {
		return nil, err
	}
	create, err := decodeArg[bool](args, 2, "create")
	if err != nil {
		return nil, err
	}
	return nil, s.services.Projects.Upsert(ctx, hash, input, create)
}

func (s *Server) handleProjectStatus(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	if _, err := s.authedUser(conn); err != nil {
		return nil, err
	}
	hash, err := decodeArg[string](args, 0, "hash")
	if err != nil {
		return nil, err
	}
	status, err := decodeArg[models.ProjectStatus](args, 1, "status")
	if err != nil {
		return nil, err
	}
	return nil, s.services.Projects.SetStatus(ctx, hash, status)
}

func (s *Server) handleProjects(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	addresses, err := decodeArg[[]string](args, 0, "addresses")
	if err != nil {
		return nil, err
	}
	owned, err := s.services.Projects.ByOwners(ctx, addresses)
	if err != nil {
		return nil, err
	}
	projects := make(map[string]models.Project, len(owned))
	for _, project := range owned {
		projects[project.Hash] = project
	}
	return []interface{}{projects}, nil
}

func (s *Server) handleProjectsByHashes(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	hashes, err := decodeArg[[]string](args, 0, "hashes")
	if err != nil {
		return nil, err
	}
	found, missing, err := s.services.Projects.ByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	return []interface{}{found, missing}, nil
}

// handleTimeKeeping reads an entry with one argument, writes one with two.
func (s *Server) handleTimeKeeping(ctx context.Context, conn *Conn, args []json.RawMessage) ([]interface{}, error) {
	hash, err := decodeArg[string](args, 0, "hash")
	if err != nil {
		return nil, err
	}

	if len(args) < 2 {
		entry, err := s.services.TimeKeeping.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		return []interface{}{entry}, nil
	}

	userID, err := s.authedUser(conn)
	if err != nil {
		return nil, err
	}
	input, err := decodeArg[records.TimeKeepingInput](args, 1, "entry")
	if err != nil {
		return nil, err
	}
	return nil, s.services.TimeKeeping.Put(ctx, hash, input, userID)
}
