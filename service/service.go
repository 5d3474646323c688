// Package service implements the Service Facade (spec.md C8): an HTTP
// JSON facade over the Installer and Launcher, reachable over Unix
// domain sockets (one per daemon, per spec.md §5's two-process model).
//
// Grounded on the cmd/libindexhttp + libindex/http pattern:
// one http.ServeMux per facade, each handler decoding a typed request,
// calling straight into the component, and writing a {code, message}
// envelope with pkg/jsonerr on failure.
package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/linglong/linglong/installer"
	"github.com/linglong/linglong/pkg/jsonerr"
)

// Reply is the typed `{code, message, payload?}` reply shape (spec.md
// §4.8), generic over the payload type.
type Reply[T any] struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Payload T      `json:"payload,omitempty"`
}

// codeFor maps an error into the fixed reply-code taxonomy (spec.md
// §6.5). A nil error maps to "" and is never written as a reply code;
// callers check err before reaching for codeFor. Errors with no
// dedicated taxonomy entry (container lifecycle errors, which the
// taxonomy does not cover) fall back to the taxonomy's generic "Fail".
func codeFor(err error) string {
	switch err.(type) {
	case *installer.ConflictingFlagsError:
		return "UserInputParamErr"
	case *installer.NotInstalledError:
		return "PkgNotInstalled"
	case *installer.NoFuzzyMatchError:
		return "PkgInstallFailed"
	case *installer.UnsupportedArchError:
		return "LoadPkgDataFailed"
	case *installer.RuntimeInstallFailedError:
		return "InstallRuntimeFailed"
	case *installer.BaseInstallFailedError:
		return "InstallBaseFailed"
	case *installer.DataFetchFailedError:
		return "LoadPkgDataFailed"
	case *InvalidURLError:
		return "ErrorModifyRepoFailed"
	default:
		return "Fail"
	}
}

// writeJSON writes v as the response body with a 200 status.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	b, _ := json.Marshal(v)
	w.Write(b)
}

// writeError writes err as a jsonerr.Response with httpcode.
func writeError(w http.ResponseWriter, err error, httpcode int) {
	jsonerr.Error(w, &jsonerr.Response{Code: codeFor(err), Message: err.Error()}, httpcode)
}

// InvalidURLError reports that ModifyRepo's url argument has a scheme
// other than http/https (spec.md §4.8).
type InvalidURLError struct{ URL string }

func (e *InvalidURLError) Error() string { return "invalid repo url: " + e.URL }

// ListenAndServeUnix starts an HTTP server bound to a Unix domain socket
// at socketPath, serving mux, until ctx is canceled.
func ListenAndServeUnix(ctx context.Context, socketPath string, mux *http.ServeMux) error {
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	err = srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
