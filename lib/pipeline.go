package relay

import (
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// pvReader wraps a pv(1) child process interposed between a source stream
// and its consumer, reporting transfer progress on stderr. Closing it
// closes the underlying stream and waits for pv to exit, so every
// descriptor opened by the pipeline is accounted for on every exit path
// (spec.md §9: "Process pipelines... scoped acquisition ensuring all
// descriptors close on every exit path and all children are waited on").
type pvReader struct {
	stdout   io.ReadCloser
	cmd      *exec.Cmd
	upstream io.Closer
}

func (p *pvReader) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *pvReader) Close() error {
	_ = p.stdout.Close()
	waitErr := p.cmd.Wait()
	upstreamErr := p.upstream.Close()
	if waitErr != nil {
		return waitErr
	}
	return upstreamErr
}

// InterposePV optionally pipes r through a pv(1) process for progress
// reporting (spec.md §4.4 step 6: "Optionally interpose a pv process for
// progress"). If pv is not requested, or is not available on PATH, r is
// returned unchanged and no error is raised -- absence of pv must never
// fail a transfer, it is purely cosmetic.
func InterposePV(log *logrus.Entry, r io.ReadCloser, enabled bool) io.ReadCloser {
	if !enabled {
		return r
	}

	if _, err := exec.LookPath("pv"); err != nil {
		log.Debug("pv not found on PATH, skipping progress interposition")
		return r
	}

	cmd := exec.Command("pv")
	cmd.Stdin = r
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Warnf("cannot create pv pipe: %v", err)
		return r
	}

	if err := cmd.Start(); err != nil {
		log.Warnf("cannot start pv: %v", err)
		return r
	}

	return &pvReader{stdout: stdout, cmd: cmd, upstream: r}
}
