package agentfs

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// Wire message types exchanged with the remote executor. The channel is
// newline-delimited JSON over two one-directional text streams.
const (
	msgExecRequest  = "exec_request"
	msgExecResponse = "exec_response"
)

// Reserved text tokens emitted by generated download commands. A missing
// file must be distinguishable from an empty file over a text-only
// channel, so absence is signaled by a token plus non-zero exit rather
// than by empty output.
const (
	tokenNotFound = "__AGENTFS_NOT_FOUND__"
	tokenIsDir    = "__AGENTFS_IS_DIR__"
	tokenSep      = "__AGENTFS_SEP__"
	heredocTag    = "__AGENTFS_B64__"
)

// maxRPCLineBytes bounds a single inbound message line (base64 payloads
// included).
const maxRPCLineBytes = 16 * 1024 * 1024

// OOBHandler receives every inbound message whose type is not
// exec_response, unmodified. Used for handshake/bootstrap exchanges
// unrelated to execution.
type OOBHandler func(msg json.RawMessage)

// rpcRequest is the outbound exec_request message.
type rpcRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Command string `json:"command"`
}

// rpcResponse is the inbound message envelope. Only Type and ID are
// required; Output/ExitCode are present on exec_response.
type rpcResponse struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Output   string `json:"output"`
	ExitCode *int   `json:"exitCode"`
}

// RPCSandbox implements the Sandbox contract by forwarding every operation
// as a text command across a process boundary. Concurrent Execute calls
// are multiplexed over the shared channel pair and correlated purely by
// request id; responses may arrive in any order.
//
// A caller wanting a per-call timeout passes a context with one; this
// layer imposes none of its own.
type RPCSandbox struct {
	id     string
	out    io.Writer
	in     io.Reader
	oob    OOBHandler
	logger *slog.Logger

	allowedPrefixes []string

	// writeMu serializes outbound lines so concurrent requests never
	// interleave bytes.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan ExecuteResult
	nextID   uint64
	disposed bool

	readerDone chan struct{}
}

var _ Sandbox = (*RPCSandbox)(nil)

// NewRPCSandbox connects a sandbox to a remote executor over the given
// channel pair and starts the single inbound listener. oob may be nil.
// in should implement io.Closer so Cleanup can unblock the listener; see
// Cleanup for the behavior when it does not.
func NewRPCSandbox(cfg *Config, out io.Writer, in io.Reader, oob OOBHandler) (*RPCSandbox, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := cfg.ID
	if id == "" {
		id = "sandbox"
	}
	s := &RPCSandbox{
		id:              id,
		out:             out,
		in:              in,
		oob:             oob,
		logger:          cfg.logger(),
		allowedPrefixes: append([]string(nil), cfg.AllowedPrefixes...),
		pending:         make(map[string]chan ExecuteResult),
		readerDone:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// ID identifies this sandbox instance.
func (s *RPCSandbox) ID() string { return s.id }

// readLoop is the single inbound listener: it parses each line as a
// message, resolves exec_response entries by id, and forwards everything
// else to the out-of-band handler. It exits on EOF or after Cleanup
// detaches it, bulk-rejecting whatever is still pending.
func (s *RPCSandbox) readLoop() {
	defer close(s.readerDone)
	defer s.rejectAll()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxRPCLineBytes)
	for scanner.Scan() {
		s.mu.Lock()
		disposed := s.disposed
		s.mu.Unlock()
		if disposed {
			// Nothing read after disposal is delivered anywhere.
			return
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var msg rpcResponse
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Debug("agentfs: discarding unparseable message", "err", err)
			continue
		}
		if msg.Type != msgExecResponse {
			if s.oob != nil {
				s.oob(json.RawMessage(append([]byte(nil), line...)))
			}
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.mu.Unlock()
		if !ok {
			// Unmatched ids are non-fatal: the caller may have cancelled,
			// or the remote may be confused. Log and move on.
			s.logger.Debug("agentfs: exec response for unknown request", "id", msg.ID)
			continue
		}
		ch <- ExecuteResult{Output: msg.Output, ExitCode: msg.ExitCode}
	}
}

// rejectAll rejects every outstanding pending entry. Each waiter observes
// its channel close and reports the one uniform disposal error.
func (s *RPCSandbox) rejectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// Execute forwards the command as an exec_request and blocks until the
// matching exec_response arrives, the context is cancelled, or the
// sandbox is disposed. Exactly one of those resolves each request.
func (s *RPCSandbox) Execute(ctx context.Context, command string) ExecuteResult {
	if strings.TrimSpace(command) == "" {
		return ExecuteResult{
			Output:   "Error: command must be a non-empty string",
			ExitCode: intPtr(ExitCodeInvalidCommand),
		}
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ExecuteResult{Output: "Error: " + ErrSandboxDisposed.Error()}
	}
	s.nextID++
	id := "req-" + strconv.FormatUint(s.nextID, 10)
	ch := make(chan ExecuteResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{Type: msgExecRequest, ID: id, Command: command})
	if err == nil {
		s.writeMu.Lock()
		_, err = s.out.Write(append(payload, '\n'))
		s.writeMu.Unlock()
	}
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ExecuteResult{Output: fmt.Sprintf("Error: failed to send command: %v", err)}
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return ExecuteResult{Output: "Error: " + ErrSandboxDisposed.Error()}
		}
		return res
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ExecuteResult{Output: fmt.Sprintf("Error: command cancelled: %v", ctx.Err())}
	}
}

// Cleanup disposes the sandbox: every outstanding request is rejected with
// the uniform disposal error and the inbound listener is detached. It is
// safe to call more than once.
//
// When the inbound stream implements io.Closer it is closed and Cleanup
// waits for the listener goroutine to exit. Otherwise Cleanup returns
// immediately: the listener stays parked on the stream but delivers
// nothing after disposal, exiting at the next inbound line or at EOF.
func (s *RPCSandbox) Cleanup(ctx context.Context) error {
	s.rejectAll()
	c, ok := s.in.(io.Closer)
	if !ok {
		return nil
	}
	_ = c.Close()
	select {
	case <-s.readerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// File operations over the text channel
// ---------------------------------------------------------------------------
//
// The remote side exposes only command execution, so every file operation
// is a generated shell snippet. Virtual paths map onto the remote working
// directory ("/a/b.txt" → "./a/b.txt"). Failure classification inspects
// the command's textual failure signature, since the remote returns only
// text.

// remotePath maps a validated virtual path onto the remote working dir.
func remotePath(virtual string) string { return "." + virtual }

// shellQuote single-quotes s for safe interpolation into a generated
// snippet.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (s *RPCSandbox) UploadFiles(files []FileUpload) []UploadResult {
	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		p, err := pathutil.ValidateFilePath(f.Path, s.allowedPrefixes)
		if err != nil {
			results = append(results, UploadResult{Path: f.Path, Err: &FileOperationError{
				Kind: InvalidPath, Path: f.Path, Message: err.Error(),
			}})
			continue
		}
		results = append(results, UploadResult{Path: p, Err: s.uploadOne(p, f.Content)})
	}
	return results
}

// uploadOne streams base64 content through a heredoc into a
// decode-and-write command. The heredoc keeps arbitrarily large payloads
// off the argument list, which has a hard length limit an inline argument
// would hit.
func (s *RPCSandbox) uploadOne(p string, content []byte) *FileOperationError {
	remote := remotePath(p)
	encoded := base64.StdEncoding.EncodeToString(content)
	var b strings.Builder
	fmt.Fprintf(&b, "mkdir -p %s && base64 -d > %s <<%s\n",
		shellQuote(parentDir(remote)), shellQuote(remote), shellQuote(heredocTag))
	// Wrap the payload so no single line exceeds conservative limits.
	for len(encoded) > 0 {
		n := min(len(encoded), 76)
		b.WriteString(encoded[:n])
		b.WriteByte('\n')
		encoded = encoded[n:]
	}
	b.WriteString(heredocTag)

	res := s.Execute(context.Background(), b.String())
	if res.ExitCode != nil && *res.ExitCode == 0 {
		return nil
	}
	return &FileOperationError{Kind: classifyFailureText(res.Output), Path: p, Message: strings.TrimSpace(res.Output)}
}

func (s *RPCSandbox) DownloadFiles(paths []string) []DownloadResult {
	results := make([]DownloadResult, 0, len(paths))
	for _, path := range paths {
		p, err := pathutil.ValidateFilePath(path, s.allowedPrefixes)
		if err != nil {
			results = append(results, DownloadResult{Path: path, Err: &FileOperationError{
				Kind: InvalidPath, Path: path, Message: err.Error(),
			}})
			continue
		}
		content, ferr := s.downloadOne(p)
		results = append(results, DownloadResult{Path: p, Content: content, Err: ferr})
	}
	return results
}

// downloadOne runs a conditional command that emits the reserved not-found
// token with non-zero exit when the path is absent, else base64 content
// for local decoding.
func (s *RPCSandbox) downloadOne(p string) ([]byte, *FileOperationError) {
	remote := shellQuote(remotePath(p))
	cmd := fmt.Sprintf(
		"if [ -d %[1]s ]; then echo %[2]s; exit 1; elif [ -f %[1]s ]; then base64 < %[1]s; else echo %[3]s; exit 1; fi",
		remote, shellQuote(tokenIsDir), shellQuote(tokenNotFound))

	res := s.Execute(context.Background(), cmd)
	out := strings.TrimSpace(res.Output)
	switch {
	case strings.Contains(out, tokenNotFound):
		return nil, &FileOperationError{Kind: FileNotFound, Path: p}
	case strings.Contains(out, tokenIsDir):
		return nil, &FileOperationError{Kind: IsADirectory, Path: p}
	case res.ExitCode == nil || *res.ExitCode != 0:
		return nil, &FileOperationError{Kind: classifyFailureText(out), Path: p, Message: out}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.Map(dropSpace, out))
	if err != nil {
		return nil, &FileOperationError{Kind: InvalidPath, Path: p, Message: "undecodable download payload: " + err.Error()}
	}
	return decoded, nil
}

func dropSpace(r rune) rune {
	switch r {
	case '\n', '\r', ' ', '\t':
		return -1
	}
	return r
}

func (s *RPCSandbox) Read(path string, offset, limit int) string {
	p, err := pathutil.ValidateFilePath(path, s.allowedPrefixes)
	if err != nil {
		return "Error: " + err.Error()
	}
	content, ferr := s.downloadOne(p)
	if ferr != nil {
		switch ferr.Kind {
		case IsADirectory:
			return isDirText(p)
		case FileNotFound:
			return notFoundText(p)
		default:
			return "Error: " + ferr.Error()
		}
	}
	return readWindow(p, string(content), offset, limit)
}

func (s *RPCSandbox) Write(path, content string) WriteResult {
	p, err := pathutil.ValidateFilePath(path, s.allowedPrefixes)
	if err != nil {
		return WriteResult{Path: path, Error: "Error: " + err.Error()}
	}
	_, ferr := s.downloadOne(p)
	switch {
	case ferr == nil:
		return WriteResult{Path: p, Error: fmt.Sprintf("Error: File '%s' already exists. Use edit to modify existing files", p)}
	case ferr.Kind == IsADirectory:
		return WriteResult{Path: p, Error: isDirText(p)}
	case ferr.Kind != FileNotFound:
		return WriteResult{Path: p, Error: "Error: " + ferr.Error()}
	}
	if uerr := s.uploadOne(p, []byte(content)); uerr != nil {
		return WriteResult{Path: p, Error: "Error: " + uerr.Error()}
	}
	return WriteResult{Path: p}
}

func (s *RPCSandbox) Edit(path, oldString, newString string, replaceAll bool) EditResult {
	p, err := pathutil.ValidateFilePath(path, s.allowedPrefixes)
	if err != nil {
		return EditResult{Path: path, Error: "Error: " + err.Error()}
	}
	content, ferr := s.downloadOne(p)
	if ferr != nil {
		switch ferr.Kind {
		case IsADirectory:
			return EditResult{Path: p, Error: isDirText(p)}
		case FileNotFound:
			return EditResult{Path: p, Error: notFoundText(p)}
		default:
			return EditResult{Path: p, Error: "Error: " + ferr.Error()}
		}
	}
	updated, occurrences, errText := applyEdit(p, string(content), oldString, newString, replaceAll)
	if errText != "" {
		return EditResult{Path: p, Error: errText}
	}
	if uerr := s.uploadOne(p, []byte(updated)); uerr != nil {
		return EditResult{Path: p, Error: "Error: " + uerr.Error()}
	}
	return EditResult{Path: p, Occurrences: occurrences}
}

func (s *RPCSandbox) LsInfo(dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	remote := shellQuote("." + strings.TrimSuffix(d, "/"))
	res := s.Execute(context.Background(), fmt.Sprintf("ls -1Ap %s 2>/dev/null || true", remote))

	var infos []FileInfo
	for _, line := range strings.Split(res.Output, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, stderrPrefix) || strings.HasPrefix(name, "Exit code:") {
			continue
		}
		if strings.HasSuffix(name, "/") {
			infos = append(infos, FileInfo{Path: d + name, IsDir: true})
		} else {
			infos = append(infos, FileInfo{Path: d + name})
		}
	}
	sortFileInfos(infos)
	return infos, nil
}

func (s *RPCSandbox) Grep(pattern, dir, glob string) ([]GrepMatch, error) {
	d := pathutil.ValidateDir(dir)
	// The glob filters dir-relative paths client-side, so slash-carrying
	// patterns behave exactly as they do on the other backends.
	var globRe *regexp.Regexp
	if glob != "" {
		re, err := regexp.Compile(pathutil.GlobToRegex(glob))
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, glob, err)
		}
		globRe = re
	}
	remote := shellQuote("." + strings.TrimSuffix(d, "/"))
	cmd := "grep -rnF -- " + shellQuote(pattern) + " " + remote + " 2>/dev/null || true"
	res := s.Execute(context.Background(), cmd)

	var matches []GrepMatch
	for _, line := range strings.Split(res.Output, "\n") {
		if line == "" || strings.HasPrefix(line, stderrPrefix) || strings.HasPrefix(line, "Exit code:") {
			continue
		}
		// Format is ./path:line:text, and text may itself contain colons.
		rest, found := strings.CutPrefix(line, "./")
		if !found {
			continue
		}
		pathPart, rest, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		linePart, text, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(linePart)
		if err != nil {
			continue
		}
		virt := "/" + pathPart
		if globRe != nil && !globRe.MatchString(strings.TrimPrefix(virt, d)) {
			continue
		}
		matches = append(matches, GrepMatch{Path: virt, Line: n, Text: text})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})
	return matches, nil
}

func (s *RPCSandbox) Glob(pattern, dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	re, err := regexp.Compile(pathutil.GlobToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, pattern, err)
	}
	remote := shellQuote("." + strings.TrimSuffix(d, "/"))
	cmd := fmt.Sprintf(
		"find %[1]s -mindepth 1 -type d 2>/dev/null; echo %[2]s; find %[1]s -mindepth 1 -type f 2>/dev/null",
		remote, shellQuote(tokenSep))
	res := s.Execute(context.Background(), cmd)

	var infos []FileInfo
	inFiles := false
	for _, line := range strings.Split(res.Output, "\n") {
		line = strings.TrimSpace(line)
		if line == tokenSep {
			inFiles = true
			continue
		}
		if line == "" || strings.HasPrefix(line, stderrPrefix) || strings.HasPrefix(line, "Exit code:") {
			continue
		}
		virt, found := strings.CutPrefix(line, "./")
		if !found {
			continue
		}
		rel := strings.TrimPrefix("/"+virt, d)
		if !re.MatchString(rel) {
			continue
		}
		if inFiles {
			infos = append(infos, FileInfo{Path: "/" + virt})
		} else {
			infos = append(infos, FileInfo{Path: "/" + virt + "/", IsDir: true})
		}
	}
	sortFileInfos(infos)
	return infos, nil
}
