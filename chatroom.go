// Package chatroom is a Go client for the chatroom service.
//
// It keeps a local, eventually consistent view of rooms, room history,
// private conversations, presence and unread counters, synchronised from
// REST fetches and a realtime WebSocket connection.
//
// Example:
//
//	client := chatroom.NewClient(token, chatroom.WithBaseURL("http://localhost:9000"))
//
//	// REST (sub-client pattern)
//	rooms, _ := client.Rooms.List(ctx)
//	client.Rooms.Messages(ctx, rooms.Rooms[0].ID, &chatroom.PageOptions{Page: 2})
//
//	// Synchronised view
//	chat := chatroom.NewChat(client.Backend(), client.Realtime(nil))
//	chat.Connect(ctx, token)
//	chat.SelectRoom(ctx, rooms.Rooms[0])
package chatroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "http://localhost:9000"
	DefaultTimeout = 10 * time.Second
	apiPrefix      = "/api"
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client. It is safe for concurrent use once built.
type Client struct {
	token         string
	baseURL       string
	httpClient    *http.Client
	log           zerolog.Logger
	onAuthExpired func(error)

	Auth    *AuthClient
	Rooms   *RoomsClient
	Users   *UsersClient
	Friends *FriendsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = logger }
}

// WithAuthExpiredHandler registers fn to run whenever a request comes back
// 401. The owner of the session decides what to do with it.
func WithAuthExpiredHandler(fn func(error)) ClientOption {
	return func(c *Client) { c.onAuthExpired = fn }
}

// NewClient creates a client. token may be empty for login and registration.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{c: c}
	c.Rooms = &RoomsClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Friends = &FriendsClient{c: c}
	return c
}

// SetToken replaces the bearer token, e.g. after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the bearer token.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Realtime returns a connection manager for the same server. Logger and
// HTTP client default to the REST client's.
func (c *Client) Realtime(config *RealtimeConfig) *ConnectionManager {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		logger := c.log
		cfg.Logger = &logger
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = c.httpClient
	}
	return NewConnectionManager(c.baseURL, &cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.log.Debug().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, method).
		Str(FieldPath, path).
		Int(FieldStatus, resp.StatusCode).
		Int64(FieldLatency, time.Since(start).Milliseconds()).
		Msg("request completed")
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &HTTPError{Status: resp.StatusCode, Message: errorMessage(data)}
		if resp.StatusCode == http.StatusUnauthorized && c.onAuthExpired != nil {
			c.onAuthExpired(herr)
		}
		return nil, herr
	}
	return data, nil
}

func errorMessage(data []byte) string {
	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func do[T any](ctx context.Context, c *Client, method, path string, body interface{}, query url.Values) (*T, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient handles session bootstrap.
type AuthClient struct{ c *Client }

func (a *AuthClient) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	return do[AuthResult](ctx, a.c, "POST", "/auth/login", map[string]string{
		"username": username, "password": password,
	}, nil)
}

func (a *AuthClient) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	return do[AuthResult](ctx, a.c, "POST", "/auth/register", map[string]string{
		"username": username, "email": email, "password": password,
	}, nil)
}

func (a *AuthClient) Verify(ctx context.Context) (*VerifyResult, error) {
	return do[VerifyResult](ctx, a.c, "GET", "/auth/verify", nil, nil)
}

// RoomsClient handles rooms and room history.
type RoomsClient struct{ c *Client }

func (r *RoomsClient) List(ctx context.Context) (*RoomsResult, error) {
	return do[RoomsResult](ctx, r.c, "GET", "/rooms/", nil, nil)
}

func (r *RoomsClient) Create(ctx context.Context, opts *CreateRoomOptions) (*RoomResult, error) {
	if opts == nil || strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("room name is required")
	}
	body := *opts
	if body.RoomType == "" {
		body.RoomType = RoomTypeGroup
	}
	return do[RoomResult](ctx, r.c, "POST", "/rooms/", body, nil)
}

func (r *RoomsClient) Join(ctx context.Context, roomID ID) (*RoomResult, error) {
	return do[RoomResult](ctx, r.c, "POST", "/rooms/join", map[string]ID{"room_id": roomID}, nil)
}

func (r *RoomsClient) JoinByCode(ctx context.Context, roomCode string) (*RoomResult, error) {
	return do[RoomResult](ctx, r.c, "POST", "/rooms/join", map[string]string{"room_code": roomCode}, nil)
}

// Messages fetches one page of room history, oldest first within the page.
func (r *RoomsClient) Messages(ctx context.Context, roomID ID, opts *PageOptions) (*MessagesResult, error) {
	return do[MessagesResult](ctx, r.c, "GET", "/rooms/"+url.PathEscape(string(roomID))+"/messages", nil, pageQuery(opts))
}

// UsersClient handles presence, search and private history.
type UsersClient struct{ c *Client }

func (u *UsersClient) Online(ctx context.Context) (*OnlineUsersResult, error) {
	return do[OnlineUsersResult](ctx, u.c, "GET", "/users/online", nil, nil)
}

func (u *UsersClient) Search(ctx context.Context, keyword string) (*UsersResult, error) {
	return do[UsersResult](ctx, u.c, "GET", "/users/search", nil, url.Values{"keyword": {keyword}})
}

// PrivateMessages fetches the latest perPage messages exchanged with userID.
func (u *UsersClient) PrivateMessages(ctx context.Context, userID ID, perPage int) (*MessagesResult, error) {
	var q url.Values
	if perPage > 0 {
		q = url.Values{"per_page": {strconv.Itoa(perPage)}}
	}
	return do[MessagesResult](ctx, u.c, "GET", "/users/"+url.PathEscape(string(userID))+"/messages", nil, q)
}

// FriendsClient handles friend management.
type FriendsClient struct{ c *Client }

func (f *FriendsClient) List(ctx context.Context) (*FriendsResult, error) {
	return do[FriendsResult](ctx, f.c, "GET", "/users/friends", nil, nil)
}

func (f *FriendsClient) Requests(ctx context.Context) (*FriendRequestsResult, error) {
	return do[FriendRequestsResult](ctx, f.c, "GET", "/users/friends/requests", nil, nil)
}

func (f *FriendsClient) Add(ctx context.Context, userID ID) (*StatusResult, error) {
	return do[StatusResult](ctx, f.c, "POST", "/users/friends/"+url.PathEscape(string(userID)), nil, nil)
}

func (f *FriendsClient) Accept(ctx context.Context, userID ID) (*StatusResult, error) {
	return do[StatusResult](ctx, f.c, "POST", "/users/friends/"+url.PathEscape(string(userID))+"/accept", nil, nil)
}

func (f *FriendsClient) Remove(ctx context.Context, userID ID) (*StatusResult, error) {
	return do[StatusResult](ctx, f.c, "DELETE", "/users/friends/"+url.PathEscape(string(userID)), nil, nil)
}

func pageQuery(opts *PageOptions) url.Values {
	if opts == nil {
		return nil
	}
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Backend adapter
// ============================================================================

// Backend is the REST surface the Chat orchestrator depends on.
type Backend interface {
	ListRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, opts *CreateRoomOptions) (*Room, error)
	JoinRoom(ctx context.Context, roomID ID) (*Room, error)
	JoinRoomByCode(ctx context.Context, roomCode string) (*Room, error)
	RoomMessages(ctx context.Context, roomID ID, page, perPage int) ([]Message, error)
	OnlineUsers(ctx context.Context) ([]User, error)
	PrivateMessages(ctx context.Context, userID ID, perPage int) ([]Message, error)
}

// Backend adapts the client to the Backend interface.
func (c *Client) Backend() Backend {
	return clientBackend{c: c}
}

type clientBackend struct{ c *Client }

func (b clientBackend) ListRooms(ctx context.Context) ([]Room, error) {
	res, err := b.c.Rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

func (b clientBackend) CreateRoom(ctx context.Context, opts *CreateRoomOptions) (*Room, error) {
	res, err := b.c.Rooms.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (b clientBackend) JoinRoom(ctx context.Context, roomID ID) (*Room, error) {
	res, err := b.c.Rooms.Join(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (b clientBackend) JoinRoomByCode(ctx context.Context, roomCode string) (*Room, error) {
	res, err := b.c.Rooms.JoinByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return &res.Room, nil
}

func (b clientBackend) RoomMessages(ctx context.Context, roomID ID, page, perPage int) ([]Message, error) {
	res, err := b.c.Rooms.Messages(ctx, roomID, &PageOptions{Page: page, PerPage: perPage})
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (b clientBackend) OnlineUsers(ctx context.Context) ([]User, error) {
	res, err := b.c.Users.Online(ctx)
	if err != nil {
		return nil, err
	}
	return res.OnlineUsers, nil
}

func (b clientBackend) PrivateMessages(ctx context.Context, userID ID, perPage int) ([]Message, error) {
	res, err := b.c.Users.PrivateMessages(ctx, userID, perPage)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}
