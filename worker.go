package agentfs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// helloMessage is the out-of-band handshake a worker emits before
// accepting requests.
type helloMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ServeWorker runs the remote side of the RPC channel: it announces itself
// with a hello message, then reads exec_request lines from in, executes
// each through sb, and writes exec_response lines to out until in is
// exhausted or ctx is cancelled. Requests run concurrently, so responses
// may leave in a different order than their requests arrived; the caller
// side correlates them by id.
func ServeWorker(ctx context.Context, sb Sandbox, in io.Reader, out io.Writer) error {
	var writeMu sync.Mutex
	writeLine := func(v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = out.Write(append(payload, '\n'))
		return err
	}

	if err := writeLine(helloMessage{Type: "hello", ID: sb.ID()}); err != nil {
		return fmt.Errorf("agentfs: worker handshake: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxRPCLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil || req.Type != msgExecRequest {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := sb.Execute(ctx, req.Command)
			_ = writeLine(rpcResponse{
				Type:     msgExecResponse,
				ID:       req.ID,
				Output:   res.Output,
				ExitCode: res.ExitCode,
			})
		}()
	}
	return scanner.Err()
}
