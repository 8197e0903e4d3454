package live

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/audio"
	"github.com/Johtaguerrero/Biblia-Responde-2.1/internal/credentials"
)

var (
	// ErrCredentialMissing means no access key was found in the environment or the store
	ErrCredentialMissing = credentials.ErrMissing
	// ErrPermissionDenied means the user refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupported means the client lacks a required capability
	ErrUnsupported = errors.New("capability not supported")
	// ErrSessionActive is returned by Connect under ConnectPolicyReject
	ErrSessionActive = errors.New("live session already active")
	// ErrDecode marks a model buffer that could not be decoded
	ErrDecode = audio.ErrMalformedAudio
)

// RemoteErrorKind classifies failures reported by the remote model
type RemoteErrorKind string

const (
	RemoteErrorAuth     RemoteErrorKind = "auth"
	RemoteErrorNotFound RemoteErrorKind = "not_found"
	RemoteErrorGeneric  RemoteErrorKind = "generic"
)

// RemoteError is a classified remote failure
type RemoteError struct {
	Kind  RemoteErrorKind
	Cause error
}

func (e *RemoteError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("remote %s error", e.Kind)
	}
	return fmt.Sprintf("remote %s error: %v", e.Kind, e.Cause)
}

func (e *RemoteError) Unwrap() error {
	return e.Cause
}

var (
	authMarkers     = []string{"403", "401", "PERMISSION_DENIED", "API key", "api key"}
	notFoundMarkers = []string{"404", "NOT_FOUND", "not found"}
)

// ClassifyRemoteError wraps err in a RemoteError whose kind is derived from
// the status codes and reasons in its text. A RemoteError is returned as is.
func ClassifyRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}

	text := err.Error()
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return &RemoteError{Kind: RemoteErrorAuth, Cause: err}
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(text, marker) {
			return &RemoteError{Kind: RemoteErrorNotFound, Cause: err}
		}
	}
	return &RemoteError{Kind: RemoteErrorGeneric, Cause: err}
}

// ErrorKind returns a short label of err for metrics
func ErrorKind(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredentialMissing):
		return "credential"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrSessionActive):
		return "session_active"
	case errors.As(err, &remote):
		return string(remote.Kind)
	}
	return "connect"
}

// UserMessage returns the pt-BR message shown to the user for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var remote *RemoteError
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return "Chave API não encontrada."
	case errors.Is(err, ErrUnsupported):
		return "Seu dispositivo não suporta acesso ao microfone ou não é seguro (HTTPS)."
	case errors.Is(err, ErrPermissionDenied):
		return "Permissão do microfone negada."
	case errors.Is(err, ErrSessionActive):
		return "Uma conversa já está em andamento."
	case errors.As(err, &remote):
		switch remote.Kind {
		case RemoteErrorAuth:
			return "Acesso negado. Verifique sua chave API."
		case RemoteErrorNotFound:
			return "Modelo de voz indisponível."
		}
		if remote.Cause == nil {
			return "Erro na conexão."
		}
		return "Erro: " + remote.Cause.Error()
	}
	return "Erro ao iniciar sessão."
}
