package native

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"ldnlink/internal/model"
)

// CreateSessionInfo mints the parameters for a new hosted session. The
// session identifier is read from src, which must be a cryptographically
// secure source; tests inject a seeded-but-uniform reader instead of
// weakening it. A nil src uses crypto/rand.
func CreateSessionInfo(src io.Reader, appID uint64, sceneID uint16, mode model.SecurityMode, passphrase []byte) (model.SessionInfo, error) {
	if src == nil {
		src = rand.Reader
	}
	if appID == 0 {
		return model.SessionInfo{}, fmt.Errorf("zero application id")
	}
	if len(passphrase) > model.PassphraseLimit {
		return model.SessionInfo{}, fmt.Errorf("passphrase exceeds %d bytes", model.PassphraseLimit)
	}
	if mode == model.SecurityOpen && len(passphrase) > 0 {
		return model.SessionInfo{}, fmt.Errorf("passphrase set on open session")
	}

	info := model.SessionInfo{
		AppID:    appID,
		SceneID:  sceneID,
		Security: mode,
	}
	if len(passphrase) > 0 {
		info.Passphrase = append([]byte(nil), passphrase...)
	}
	if _, err := io.ReadFull(src, info.SessionID[:]); err != nil {
		return model.SessionInfo{}, fmt.Errorf("mint session id: %w", err)
	}
	return info, nil
}

// DeriveSecurityParameter computes the shared authentication material
// for a session. Both sides derive the same value from the passphrase
// and the session identifier, so it never crosses the wire.
func DeriveSecurityParameter(sessionID [model.SessionIDSize]byte, passphrase []byte) model.SecurityParameter {
	p := model.SecurityParameter{SessionID: sessionID}
	sum := sha256.Sum256(append(append([]byte(nil), passphrase...), sessionID[:]...))
	copy(p.Key[:], sum[:16])
	return p
}
