package wasmruntime

import (
	"io"
	"sync"

	"github.com/deskwire/extensions/internal/infrastructure/hostsurface"
	"github.com/deskwire/extensions/internal/infrastructure/redaction"
)

// redactorAdapter lets the gitleaks-backed redaction.Redactor satisfy
// hostsurface.Redactor's single-method interface: ScrubString already does
// exactly what log-message redaction needs, it just has a wider name.
type redactorAdapter struct {
	r *redaction.Redactor
}

// AdaptRedactor wraps a concrete redactor for use as a guest instance's
// hostsurface.Redactor. Passing nil yields a nil hostsurface.Redactor, which
// logging.go and the stdout/stderr writer both treat as pass-through.
func AdaptRedactor(r *redaction.Redactor) hostsurface.Redactor {
	if r == nil {
		return nil
	}
	return redactorAdapter{r: r}
}

func (a redactorAdapter) Redact(s string) string {
	return a.r.ScrubString(s)
}

// redactingWriter scrubs secrets out of a guest's stdout/stderr before they
// reach the host's log sink, the same protection logging.go gives explicit
// log() calls. A nil Redactor makes this a plain passthrough.
type redactingWriter struct {
	underlying io.Writer
	redactor   hostsurface.Redactor

	mu sync.Mutex
}

func newRedactingWriter(underlying io.Writer, redactor hostsurface.Redactor) *redactingWriter {
	return &redactingWriter{underlying: underlying, redactor: redactor}
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.redactor == nil {
		return w.underlying.Write(p)
	}

	scrubbed := []byte(w.redactor.Redact(string(p)))
	if _, err := w.underlying.Write(scrubbed); err != nil {
		return 0, err
	}
	// io.Writer contract expects n == len(p); redaction can change length.
	return len(p), nil
}
