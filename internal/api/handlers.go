package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/lan-chat/internal/blob"
	"github.com/npezzotti/lan-chat/internal/chat"
	"github.com/npezzotti/lan-chat/internal/server"
	"github.com/npezzotti/lan-chat/internal/types"
)

const (
	maxJsonBody       = 1 << 20
	multipartMemory   = 1 << 20
	multipartHeadRoom = 1 << 20
	sniffLen          = 512
)

type ReactionRequest struct {
	Type string `json:"type"`
}

func (r ReactionRequest) Validate() error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	return nil
}

type RenameRequest struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

func (r RenameRequest) Validate() error {
	if strings.TrimSpace(r.NewName) == "" {
		return errors.New("newName is required")
	}
	return nil
}

type ImageRequest struct {
	Image string `json:"image"`
}

func (r ImageRequest) Validate() error {
	if r.Image == "" {
		return errors.New("image is required")
	}
	return nil
}

type BgColorRequest struct {
	BgColor string `json:"bgColor"`
}

func (r BgColorRequest) Validate() error {
	if strings.TrimSpace(r.BgColor) == "" {
		return errors.New("bgColor is required")
	}
	return nil
}

type CreateAccessRequest struct {
	Name string `json:"name"`
}

func (r CreateAccessRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

type validator interface {
	Validate() error
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type IdResponse struct {
	Id int `json:"id"`
}

func (s *LanChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *LanChatApp) writeError(w http.ResponseWriter, op string, err error) {
	errResp := apiErrorFrom(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("%s: %v", op, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *LanChatApp) writeSuccess(w http.ResponseWriter) {
	s.writeJson(w, http.StatusOK, SuccessResponse{Success: true})
}

// decodeRequest reads a JSON body into v and validates it. It writes the
// error response itself and reports whether the caller may continue.
func (s *LanChatApp) decodeRequest(w http.ResponseWriter, r *http.Request, v validator) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJsonBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}

	if err := v.Validate(); err != nil {
		errResp := NewBadRequestError()
		errResp.Message = err.Error()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}

	return true
}

func pathId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *LanChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *LanChatApp) checkUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.chat.CheckUser(r.Context(), clientAddress(r))
	if err != nil {
		s.writeError(w, "check user", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, res)
}

func (s *LanChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.chat.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, "list users", err)
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *LanChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	items, err := s.feed.BuildFeed(r.Context(), u.Id)
	if err != nil {
		s.writeError(w, "build feed", err)
		return
	}
	if items == nil {
		items = []types.FeedItem{}
	}

	s.writeJson(w, http.StatusOK, items)
}

// readAttachment returns the optional image part of a message form. The
// content type is sniffed from the data rather than trusted from the
// client.
func readAttachment(r *http.Request) (*chat.Attachment, func(), error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		file.Close()
		return nil, nil, err
	}
	head = head[:n]

	return &chat.Attachment{
		Body:        io.MultiReader(bytes.NewReader(head), file),
		ContentType: http.DetectContentType(head),
		Size:        header.Size,
	}, func() { file.Close() }, nil
}

func (s *LanChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartHeadRoom)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			errResp := NewRequestEntityTooLargeError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer r.MultipartForm.RemoveAll()

	att, closeFile, err := readAttachment(r)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer closeFile()

	id, err := s.chat.SendMessage(r.Context(), u, r.FormValue("message"), att)
	if err != nil {
		s.writeError(w, "send message", err)
		return
	}

	s.writeJson(w, http.StatusOK, IdResponse{Id: id})
}

func (s *LanChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	id, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.DeleteMessage(r.Context(), u, id); err != nil {
		s.writeError(w, "delete message", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) toggleReaction(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	id, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ReactionRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if _, err := s.chat.ToggleReaction(r.Context(), u, id, req.Type); err != nil {
		s.writeError(w, "toggle reaction", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) renameUser(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	var req RenameRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if err := s.chat.RenameUser(r.Context(), u, req.NewName); err != nil {
		s.writeError(w, "rename user", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) changeUserImage(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	var req ImageRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if err := s.chat.ChangeUserImage(r.Context(), u, req.Image); err != nil {
		s.writeError(w, "change image", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) changeBgColor(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	var req BgColorRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if err := s.chat.ChangeBgColor(r.Context(), u, req.BgColor); err != nil {
		s.writeError(w, "change bgColor", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) requestAccess(w http.ResponseWriter, r *http.Request) {
	var req CreateAccessRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if _, err := s.chat.RequestAccess(r.Context(), clientAddress(r), req.Name); err != nil {
		s.writeError(w, "request access", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) listAccessRequests(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	reqs, err := s.chat.ListAccessRequests(r.Context(), u)
	if err != nil {
		s.writeError(w, "list access requests", err)
		return
	}

	s.writeJson(w, http.StatusOK, reqs)
}

func (s *LanChatApp) approveAccess(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	id, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.chat.ApproveAccess(r.Context(), u, id); err != nil {
		s.writeError(w, "approve access", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) rejectAccess(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	id, ok := pathId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.RejectAccess(r.Context(), u, id); err != nil {
		s.writeError(w, "reject access", err)
		return
	}

	s.writeSuccess(w)
}

func (s *LanChatApp) serveImage(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	f, etag, err := s.blobs.Open(key)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			errResp = NewNotFoundError()
		} else {
			s.log.Println("open blob:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("ETag", etag)
	http.ServeContent(w, r, key, fi.ModTime(), f)
}

func (s *LanChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(u.Id, conn, s.notifier, s.log)

	s.notifier.Subscribe(client)
	go client.Write()
	go client.Read()
}
