// Package lsp_server lints HTML documents for editors over the Language
// Server Protocol.
package lsp_server

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/juan-carlos/juancarlos/store"
	"github.com/juan-carlos/juancarlos/types"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

const (
	MethodLintDocument = "juancarlos/lintDocument"
	MethodLintFile     = "juancarlos/lintFile"
)

type Options struct {
	Config  *config.Config
	Logger  *zap.SugaredLogger
	Version string

	// History records every analysis when set.
	History *logger.Logger
	Metrics *Metrics
}

type LspServer struct {
	mu sync.Mutex

	conn     *jsonrpc2.Conn
	logger   *zap.SugaredLogger
	version  string
	history  *logger.Logger
	metrics  *Metrics
	baseCfg  *config.Config
	cfg      *config.Config
	analyzer *analysis.Analyzer
	// editorSettings is the last didChangeConfiguration payload, reapplied
	// when the files change.
	editorSettings any
	documents      *store.DocumentStore

	initialized bool
	shuttingDown bool
	closed       bool
	doneChan     chan int
}

func New(opts Options) (*LspServer, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	analyzer, err := opts.Config.BuildAnalyzer()
	if err != nil {
		return nil, err
	}

	return &LspServer{
		logger:    opts.Logger,
		version:   opts.Version,
		history:   opts.History,
		metrics:   opts.Metrics,
		baseCfg:   opts.Config,
		cfg:       opts.Config,
		analyzer:  analyzer,
		documents: store.NewDocumentStore(nil),
		doneChan:  make(chan int, 1),
	}, nil
}

// Done yields the exit code once the client sends exit: 0 after a
// shutdown request, 1 otherwise.
func (s *LspServer) Done() <-chan int {
	return s.doneChan
}

func (s *LspServer) Documents() *store.DocumentStore {
	return s.documents
}

// Close marks the connection as gone. Documents still open are dropped.
func (s *LspServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, doc := range s.documents.List() {
		s.documents.Close(doc.URI)
		s.metrics.addOpenDocuments(-1)
	}
	return nil
}

// codeServerNotInitialized is the LSP error for requests sent before
// initialize.
const codeServerNotInitialized int64 = -32002

func invalidParams(format string, args ...any) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func decodePayload[T any](r *jsonrpc2.Request) (*T, error) {
	if r.Params == nil || string(*r.Params) == "null" {
		return nil, invalidParams("Params field is null for method %s", r.Method)
	}

	var payload T
	if err := json.Unmarshal(*r.Params, &payload); err != nil {
		return nil, invalidParams("Unable to decode params of method %s: %v", r.Method, err)
	}
	return &payload, nil
}

// Handle serves one message at a time so document notifications are applied
// in the order they were sent.
func (s *LspServer) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		s.conn = c
	}

	start := time.Now()
	result, err := s.handle(ctx, c, r)
	s.logger.Debugw("handled message", "method", r.Method, "notification", r.Notif, "took", time.Since(start))

	if r.Notif {
		if err != nil {
			s.logger.Warnw("notification failed", "method", r.Method, "error", err)
		}
		return
	}

	if err != nil {
		var rpcErr *jsonrpc2.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}

		s.logger.Warnw("request failed", "method", r.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		if err := c.ReplyWithError(ctx, r.ID, rpcErr); err != nil {
			s.logger.Warnw("unable to reply", "method", r.Method, "error", err)
		}
		return
	}

	if err := c.Reply(ctx, r.ID, result); err != nil {
		s.logger.Warnw("unable to reply", "method", r.Method, "error", err)
	}
}

func (s *LspServer) handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) (any, error) {
	if r.Method == lsp.MethodExit {
		code := 1
		if s.shuttingDown {
			code = 0
		}

		select {
		case s.doneChan <- code:
		default:
		}
		return nil, nil
	}

	if s.shuttingDown {
		if r.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "server is shutting down"}
	}

	if !s.initialized && r.Method != lsp.MethodInitialize {
		if r.Notif {
			s.logger.Debugw("dropping notification before initialize", "method", r.Method)
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: codeServerNotInitialized, Message: "server is not initialized"}
	}

	switch r.Method {
	case lsp.MethodInitialize:
		return s.initialize(r)
	case lsp.MethodInitialized:
		s.logger.Infow("client initialized")
		return nil, nil
	case lsp.MethodShutdown:
		s.shuttingDown = true
		return nil, nil
	case lsp.MethodTextDocumentDidOpen:
		return nil, s.didOpen(ctx, c, r)
	case lsp.MethodTextDocumentDidChange:
		return nil, s.didChange(ctx, c, r)
	case lsp.MethodTextDocumentDidSave:
		return nil, s.didSave(ctx, c, r)
	case lsp.MethodTextDocumentDidClose:
		return nil, s.didClose(ctx, c, r)
	case lsp.MethodWorkspaceDidChangeConfiguration:
		return nil, s.didChangeConfiguration(ctx, c, r)
	case MethodLintDocument:
		return s.lintDocument(r)
	case MethodLintFile:
		return s.lintFile(r)
	}

	if r.Notif {
		// $/cancelRequest, $/setTrace and friends
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + r.Method}
}

type initializeParams struct {
	ClientInfo            *lsp.ClientInfo `json:"clientInfo,omitempty"`
	InitializationOptions any             `json:"initializationOptions,omitempty"`
}

func (s *LspServer) initialize(r *jsonrpc2.Request) (any, error) {
	if r.Params != nil && string(*r.Params) != "null" {
		params, err := decodePayload[initializeParams](r)
		if err != nil {
			return nil, err
		}

		if params.ClientInfo != nil {
			s.logger.Infow("client connected", "name", params.ClientInfo.Name, "version", params.ClientInfo.Version)
		}

		if params.InitializationOptions != nil {
			if err := s.applySettings(map[string]any{config.SettingsSection: params.InitializationOptions}); err != nil {
				return nil, invalidParams("invalid initializationOptions: %v", err)
			}
		}
	}

	s.initialized = true
	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: lsp.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    lsp.TextDocumentSyncKindIncremental,
				Save:      &lsp.SaveOptions{IncludeText: true},
			},
		},
		ServerInfo: &lsp.ServerInfo{
			Name:    s.cfg.Server.Name,
			Version: s.version,
		},
	}, nil
}

func (s *LspServer) didOpen(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) error {
	payload, err := decodePayload[lsp.DidOpenTextDocumentParams](r)
	if err != nil {
		return err
	}

	item := payload.TextDocument
	_, wasOpen := s.documents.Get(item.URI)

	doc, err := s.documents.Open(item.URI, string(item.LanguageID), item.Version, item.Text)
	if err != nil {
		// the overlay is a convenience for lintFile, keep going
		s.logger.Warnw("unable to mirror document", "uri", item.URI, "error", err)
	}

	if !wasOpen {
		s.metrics.addOpenDocuments(1)
	}

	return s.publish(ctx, c, doc)
}

// didChangeParams mirrors lsp.DidChangeTextDocumentParams with an optional
// range so full-text changes can be told apart.
type didChangeParams struct {
	TextDocument   lsp.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []store.Change                      `json:"contentChanges"`
}

func (s *LspServer) didChange(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) error {
	payload, err := decodePayload[didChangeParams](r)
	if err != nil {
		return err
	}

	doc, err := s.documents.Change(payload.TextDocument.URI, payload.TextDocument.Version, payload.ContentChanges)
	if errors.Is(err, types.ErrInvalidRange) {
		s.showMessage(ctx, c, lsp.MessageTypeWarning, "juancarlos: could not apply an edit, reopen the document to resync")
		return err
	} else if errors.Is(err, store.ErrNotOpen) {
		return err
	} else if err != nil {
		s.logger.Warnw("unable to mirror document", "uri", doc.URI, "error", err)
	}

	return s.publish(ctx, c, doc)
}

func (s *LspServer) didSave(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) error {
	payload, err := decodePayload[lsp.DidSaveTextDocumentParams](r)
	if err != nil {
		return err
	}

	doc, ok := s.documents.Get(payload.TextDocument.URI)
	if !ok {
		return errors.Wrapf(store.ErrNotOpen, "%s", payload.TextDocument.URI)
	}

	if len(payload.Text) != 0 && payload.Text != doc.Text {
		doc, err = s.documents.Change(doc.URI, doc.Version, []store.Change{{Text: payload.Text}})
		if err != nil {
			s.logger.Warnw("unable to mirror document", "uri", doc.URI, "error", err)
		}
	}

	if s.history != nil && s.cfg.History.Snapshots {
		if _, err := s.history.WriteSnapshot(string(doc.URI), []byte(doc.Text), doc.Version); err != nil {
			s.logger.Warnw("unable to store snapshot", "uri", doc.URI, "error", err)
		}
	}

	return s.publish(ctx, c, doc)
}

func (s *LspServer) didClose(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) error {
	payload, err := decodePayload[lsp.DidCloseTextDocumentParams](r)
	if err != nil {
		return err
	}

	if s.documents.Close(payload.TextDocument.URI) {
		s.metrics.addOpenDocuments(-1)
	}

	return c.Notify(ctx, lsp.MethodTextDocumentPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         payload.TextDocument.URI,
		Diagnostics: []lsp.Diagnostic{},
	})
}

func (s *LspServer) didChangeConfiguration(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) error {
	payload, err := decodePayload[lsp.DidChangeConfigurationParams](r)
	if err != nil {
		return err
	}

	if err := s.applySettings(payload.Settings); err != nil {
		s.showMessage(ctx, c, lsp.MessageTypeError, "juancarlos: "+err.Error())
		return err
	}

	return s.relintAll(ctx, c)
}

// applySettings merges editor settings over the file configuration and
// swaps the analyzer. On error nothing changes.
func (s *LspServer) applySettings(settings any) error {
	merged, err := s.baseCfg.Merge(settings)
	if err != nil {
		return err
	}

	analyzer, err := merged.BuildAnalyzer()
	if err != nil {
		return err
	}

	s.editorSettings = settings
	s.cfg = merged
	s.analyzer = analyzer
	return nil
}

// ReloadConfig replaces the file configuration, keeps the editor settings
// on top and lints every open document again.
func (s *LspServer) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.baseCfg
	s.baseCfg = cfg
	if err := s.applySettings(s.editorSettings); err != nil {
		s.baseCfg = previous
		return err
	}

	s.logger.Infow("configuration reloaded", "files", cfg.Files)
	if s.conn == nil || s.closed {
		return nil
	}
	return s.relintAll(ctx, s.conn)
}

func (s *LspServer) relintAll(ctx context.Context, c *jsonrpc2.Conn) error {
	for _, doc := range s.documents.List() {
		if err := s.publish(ctx, c, doc); err != nil {
			return err
		}
	}
	return nil
}

// sourceName labels diagnostics with the document's file name.
func sourceName(u uri.URI) string {
	if name, ok := store.Filename(u); ok {
		return filepath.Base(name)
	}

	raw := string(u)
	return raw[strings.LastIndexAny(raw, "/:")+1:]
}

// lint runs the analyzer and records the outcome. Diagnostics is never nil
// since clients expect an array.
func (s *LspServer) lint(document string, version int32, source, text string) analysis.Result {
	start := time.Now()
	result := s.analyzer.Run(source, text)
	took := time.Since(start)

	if result.Diagnostics == nil {
		result.Diagnostics = []lsp.Diagnostic{}
	}

	s.metrics.observeAnalysis(result, took)
	s.logger.Debugw("analyzed document",
		"document", document,
		"version", version,
		"diagnostics", len(result.Diagnostics),
		"fatal", result.Fatal,
		"took", took,
	)

	if s.history != nil {
		run := logger.NewRun(document, version, logger.OriginServer, result, took)
		if _, err := s.history.Record(run); err != nil {
			s.logger.Warnw("unable to record run", "document", document, "error", err)
		}
	}
	return result
}

func (s *LspServer) publish(ctx context.Context, c *jsonrpc2.Conn, doc store.Document) error {
	result := s.lint(string(doc.URI), doc.Version, sourceName(doc.URI), doc.Text)
	s.metrics.observePublish(len(result.Diagnostics))

	return c.Notify(ctx, lsp.MethodTextDocumentPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         doc.URI,
		Version:     uint32(doc.Version),
		Diagnostics: result.Diagnostics,
	})
}

func (s *LspServer) showMessage(ctx context.Context, c *jsonrpc2.Conn, typ lsp.MessageType, message string) {
	if err := c.Notify(ctx, lsp.MethodWindowShowMessage, lsp.ShowMessageParams{Type: typ, Message: message}); err != nil {
		s.logger.Warnw("unable to show message", "error", err)
	}
}

// LintResult answers the custom lint requests.
type LintResult struct {
	URI         uri.URI          `json:"uri"`
	Version     int32            `json:"version,omitempty"`
	Fatal       bool             `json:"fatal"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

type lintDocumentParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
}

func (s *LspServer) lintDocument(r *jsonrpc2.Request) (any, error) {
	payload, err := decodePayload[lintDocumentParams](r)
	if err != nil {
		return nil, err
	}

	doc, ok := s.documents.Get(payload.TextDocument.URI)
	if !ok {
		return nil, invalidParams("document %s is not open", payload.TextDocument.URI)
	}

	result := s.lint(string(doc.URI), doc.Version, sourceName(doc.URI), doc.Text)
	return LintResult{
		URI:         doc.URI,
		Version:     doc.Version,
		Fatal:       result.Fatal,
		Diagnostics: result.Diagnostics,
	}, nil
}

type lintFileParams struct {
	Path string `json:"path"`
}

// lintFile lints a path, preferring the open buffer over the disk content.
func (s *LspServer) lintFile(r *jsonrpc2.Request) (any, error) {
	payload, err := decodePayload[lintFileParams](r)
	if err != nil {
		return nil, err
	}

	if len(payload.Path) == 0 {
		return nil, invalidParams("path is required")
	}

	path, err := filepath.Abs(payload.Path)
	if err != nil {
		return nil, invalidParams("invalid path %s: %v", payload.Path, err)
	}

	content, err := s.documents.FS().ReadFile(path)
	if err != nil {
		return nil, invalidParams("unable to read %s: %v", path, err)
	}

	u := uri.File(path)
	version := int32(0)
	if doc, ok := s.documents.Get(u); ok {
		version = doc.Version
	}

	result := s.lint(string(u), version, filepath.Base(path), string(content))
	return LintResult{
		URI:         u,
		Version:     version,
		Fatal:       result.Fatal,
		Diagnostics: result.Diagnostics,
	}, nil
}
