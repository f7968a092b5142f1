// Package checks re-verifies stored signatures and the certificates they
// chain to, collecting problems into a report instead of failing.
package checks

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/signing"
	"github.com/kilupskalvis/normandy/internal/store"
)

// Message codes.
const (
	CodeRecipeCheckFailed      = "normandy.recipes.W001"
	CodeRecipeSignatureInvalid = "normandy.recipes.E001"
	CodeActionCheckFailed      = "normandy.actions.W001"
	CodeActionSignatureInvalid = "normandy.actions.E001"
	CodeCertificateUnreachable = "normandy.signing.W001"
	CodeCertificateExpiring    = "normandy.signing.W002"
	CodeCertificateInvalid     = "normandy.signing.E001"
)

const defaultWorkers = 4

// Level is the severity of a message.
type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is a single finding.
type Message struct {
	Level  Level  `json:"level"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Object string `json:"object,omitempty"`
}

// Report aggregates the findings of a run.
type Report struct {
	Messages []Message `json:"messages"`
	mu       sync.Mutex
}

func (r *Report) add(level Level, code, object, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Level: level, Code: code, Msg: fmt.Sprintf(format, args...), Object: object})
}

// HasErrors reports whether any message is an error.
func (r *Report) HasErrors() bool {
	for _, m := range r.Messages {
		if m.Level == LevelError {
			return true
		}
	}
	return false
}

// Count returns the number of messages at level.
func (r *Report) Count(level Level) int {
	n := 0
	for _, m := range r.Messages {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Verifier checks signatures and certificate chains behind x5u URLs.
type Verifier interface {
	VerifySignatureX5U(ctx context.Context, data []byte, signature, x5u string) error
	VerifyX5U(ctx context.Context, url string, expireEarly time.Duration) (*x509.Certificate, error)
}

// Runner runs the signature checks.
type Runner struct {
	Store       *store.Store
	Verifier    Verifier
	ExpireEarly time.Duration
	Workers     int
}

type signedObject struct {
	kind      string
	id        int64
	data      []byte
	signature string
	x5u       string
}

// Run executes every check and returns the combined report.
func (r *Runner) Run(ctx context.Context) *Report {
	report := &Report{}
	objects := r.collect(report)

	r.checkSignatures(ctx, report, objects)
	r.checkCertificates(ctx, report, objects)

	sort.SliceStable(report.Messages, func(i, j int) bool {
		a, b := report.Messages[i], report.Messages[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Object < b.Object
	})
	return report
}

func (r *Runner) collect(report *Report) []signedObject {
	var objects []signedObject

	err := r.Store.View(func(tx *store.Tx) error {
		recipes, err := tx.ListRecipes()
		if err != nil {
			return err
		}
		for _, recipe := range recipes {
			if recipe.Signature == nil {
				continue
			}
			data, err := core.CanonicalRecipe(tx, recipe)
			if err != nil {
				report.add(LevelWarning, CodeRecipeCheckFailed, objectName("recipe", recipe.ID),
					"Could not build signed content: %v", err)
				continue
			}
			objects = append(objects, signedObject{
				kind: "recipe", id: recipe.ID, data: data,
				signature: recipe.Signature.Signature, x5u: recipe.Signature.X5U,
			})
		}
		return nil
	})
	if err != nil {
		report.add(LevelWarning, CodeRecipeCheckFailed, "", "Could not list recipes: %v", err)
	}

	actions, err := r.Store.ListActions()
	if err != nil {
		report.add(LevelWarning, CodeActionCheckFailed, "", "Could not list actions: %v", err)
		return objects
	}
	for _, action := range actions {
		if action.Signature == nil {
			continue
		}
		data, err := core.CanonicalAction(action)
		if err != nil {
			report.add(LevelWarning, CodeActionCheckFailed, objectName("action", action.ID),
				"Could not build signed content: %v", err)
			continue
		}
		objects = append(objects, signedObject{
			kind: "action", id: action.ID, data: data,
			signature: action.Signature.Signature, x5u: action.Signature.X5U,
		})
	}
	return objects
}

// checkSignatures verifies every stored signature against the current
// content. Unreachable certificates are warnings.
func (r *Runner) checkSignatures(ctx context.Context, report *Report, objects []signedObject) {
	var g errgroup.Group
	g.SetLimit(r.workers())

	for _, obj := range objects {
		o := obj
		g.Go(func() error {
			err := r.Verifier.VerifySignatureX5U(ctx, o.data, o.signature, o.x5u)
			if err == nil {
				return nil
			}
			name := objectName(o.kind, o.id)
			var te *signing.TransportError
			if errors.As(err, &te) {
				report.add(LevelWarning, checkFailedCode(o.kind), name, "Could not check signature: %v", err)
				return nil
			}
			report.add(LevelError, invalidCode(o.kind), name, "Signature is invalid: %v", err)
			return nil
		})
	}
	_ = g.Wait()
}

// checkCertificates verifies each distinct x5u once with the early expiry
// window applied.
func (r *Runner) checkCertificates(ctx context.Context, report *Report, objects []signedObject) {
	seen := make(map[string]bool)
	var urls []string
	for _, o := range objects {
		if o.x5u != "" && !seen[o.x5u] {
			seen[o.x5u] = true
			urls = append(urls, o.x5u)
		}
	}

	var g errgroup.Group
	g.SetLimit(r.workers())

	for _, url := range urls {
		u := url
		g.Go(func() error {
			_, err := r.Verifier.VerifyX5U(ctx, u, r.ExpireEarly)
			var te *signing.TransportError
			switch {
			case err == nil:
			case errors.As(err, &te):
				report.add(LevelWarning, CodeCertificateUnreachable, u, "Could not fetch certificate chain: %v", err)
			case errors.Is(err, signing.ErrCertificateExpiringSoon):
				report.add(LevelWarning, CodeCertificateExpiring, u, "%v", err)
			default:
				report.add(LevelError, CodeCertificateInvalid, u, "%v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return defaultWorkers
}

func objectName(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func checkFailedCode(kind string) string {
	if kind == "action" {
		return CodeActionCheckFailed
	}
	return CodeRecipeCheckFailed
}

func invalidCode(kind string) string {
	if kind == "action" {
		return CodeActionSignatureInvalid
	}
	return CodeRecipeSignatureInvalid
}
