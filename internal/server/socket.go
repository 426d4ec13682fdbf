package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/supervisor"
)

// connTimeout bounds how long one control connection may take to deliver its
// request and accept the response.
const connTimeout = 5 * time.Second

// Dispatcher accepts control-channel connections on a unix socket: one
// connection per request, one JSON request in, exactly one JSON response out,
// then close. The socket path is owned by this dispatcher; it is created on
// Listen and removed on Close.
type Dispatcher struct {
	sup        *supervisor.Supervisor
	programs   string // program list path re-read on apply
	socketPath string
	log        *slog.Logger

	ln   net.Listener
	wg   sync.WaitGroup
	quit chan struct{}
}

func NewDispatcher(sup *supervisor.Supervisor, programsPath, socketPath string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sup:        sup,
		programs:   programsPath,
		socketPath: socketPath,
		log:        log,
		quit:       make(chan struct{}),
	}
}

// Listen binds the control socket. A stale socket file from a previous run is
// removed first; failure to bind afterwards is fatal to the caller.
func (d *Dispatcher) Listen() error {
	if _, err := os.Stat(d.socketPath); err == nil {
		if err := os.Remove(d.socketPath); err != nil {
			return fmt.Errorf("remove stale socket %s: %w", d.socketPath, err)
		}
	}
	ln, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("bind control socket %s: %w", d.socketPath, err)
	}
	d.ln = ln
	d.log.Info("control socket listening", "path", d.socketPath)
	return nil
}

// Serve runs the accept loop until Close. Each connection is handled on its
// own goroutine so a slow client never stalls supervision or other clients.
func (d *Dispatcher) Serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.log.Warn("accept failed", "error", err)
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(conn)
		}()
	}
}

// Close stops accepting, waits for in-flight requests and removes the socket
// file.
func (d *Dispatcher) Close() error {
	close(d.quit)
	var err error
	if d.ln != nil {
		err = d.ln.Close()
	}
	d.wg.Wait()
	if rmErr := os.Remove(d.socketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (d *Dispatcher) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		d.writeResponse(conn, errResponse("malformed request: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		d.writeResponse(conn, errResponse("%v", err))
		return
	}
	d.writeResponse(conn, d.dispatch(req))
}

func (d *Dispatcher) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		d.log.Error("marshal response failed", "error", err)
		return
	}
	// single write, then the deferred close; clients must not expect chunks
	if _, err := conn.Write(data); err != nil {
		d.log.Debug("write response failed", "error", err)
	}
}

// dispatch invokes the supervisor for one validated request. Mutations are
// serialized against the record table by the supervisor's locking; an error
// for one id never disturbs the rest of the table.
func (d *Dispatcher) dispatch(req Request) Response {
	switch req.Command {
	case CmdStatus:
		return okResponse(d.sup.Snapshot())
	case CmdStart:
		id := *req.Payload
		if err := d.sup.Spawn(id); err != nil {
			return errResponse("%v", err)
		}
		return okResponse(fmt.Sprintf("process %q started", id))
	case CmdStop:
		id := *req.Payload
		if err := d.sup.RequestStop(id); err != nil {
			return errResponse("%v", err)
		}
		return okResponse(fmt.Sprintf("stop requested for %q", id))
	case CmdRestart:
		id := *req.Payload
		if err := d.sup.RequestRestart(id); err != nil {
			return errResponse("%v", err)
		}
		return okResponse(fmt.Sprintf("restart requested for %q", id))
	case CmdApply:
		progs, err := config.LoadPrograms(d.programs)
		if err != nil {
			// a bad file never partially applies; existing records keep running
			return errResponse("load program list: %v", err)
		}
		started := d.sup.Apply(progs)
		return okResponse(fmt.Sprintf("applied %d programs, started %d", len(progs), started))
	}
	return errResponse("unknown command %q", req.Command)
}
