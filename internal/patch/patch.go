// Package patch scrubs the automation marker tokens from a chromedriver executable.
//
// chromedriver injects window properties named cdc_<18 chars> into every page it
// controls. Overwriting the 18 characters after each "cdc_" with random letters keeps
// the binary's layout intact while making those properties unrecognisable.
package patch

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"

	"go.uber.org/zap"
)

// TokenLen is the number of bytes replaced after each marker.
const TokenLen = 18

var (
	marker  = []byte("cdc_")
	letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
)

// Rand is the randomness source used to pick replacement letters. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// PatchError reports a failed read of the source or write of the destination.
type PatchError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Result summarises one patch run.
type Result struct {
	Count int
	Bytes int
}

// PatchBytes returns a copy of buf with the TokenLen bytes after every marker replaced
// by letters drawn from rnd, and the number of markers rewritten. Markers are found in
// buf at every offset, so one that starts inside another marker's token is rewritten
// too. Markers with fewer than TokenLen trailing bytes are left alone. buf is not
// modified.
func PatchBytes(buf []byte, rnd Rand) ([]byte, int) {
	if rnd == nil {
		rnd = globalRand{}
	}
	out := bytes.Clone(buf)
	count := 0
	for i := 0; i < len(buf); {
		j := bytes.Index(buf[i:], marker)
		if j < 0 {
			break
		}
		at := i + j
		start := at + len(marker)
		end := start + TokenLen
		// Every later marker ends further out.
		if end > len(buf) {
			break
		}
		for k := start; k < end; k++ {
			out[k] = letters[rnd.IntN(len(letters))]
		}
		count++
		i = at + 1
	}
	return out, count
}

// Patcher writes patched copies of driver executables.
type Patcher struct {
	logger *zap.Logger
	rnd    Rand
}

// NewPatcher creates a Patcher. A nil rnd uses the shared math/rand/v2 source.
func NewPatcher(logger *zap.Logger, rnd Rand) *Patcher {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Patcher{logger: logger.Named("patch"), rnd: rnd}
}

// Patch reads src fully and writes the scrubbed copy to dst with mode 0755. src is never
// modified. Finding no markers is logged but is not an error.
func (p *Patcher) Patch(src, dst string) (Result, error) {
	buf, err := os.ReadFile(src)
	if err != nil {
		return Result{}, &PatchError{Op: "read", Path: src, Err: err}
	}

	out, count := PatchBytes(buf, p.rnd)
	if count == 0 {
		p.logger.Warn("No automation markers found; writing an unmodified copy.", zap.String("src", src))
	}

	if err := os.WriteFile(dst, out, 0o755); err != nil {
		return Result{}, &PatchError{Op: "write", Path: dst, Err: err}
	}
	// WriteFile leaves the mode of an existing file untouched.
	if err := os.Chmod(dst, 0o755); err != nil {
		return Result{}, &PatchError{Op: "write", Path: dst, Err: err}
	}

	p.logger.Info("Patched chromedriver.", zap.String("dst", dst), zap.Int("markers", count))
	return Result{Count: count, Bytes: len(out)}, nil
}
