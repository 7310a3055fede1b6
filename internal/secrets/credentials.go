package secrets

import (
	"context"
	"fmt"

	"github.com/nickcecere/ragchat/internal/model"
)

// KeyRepository is the persistence the credential store needs.
type KeyRepository interface {
	Upsert(ctx context.Context, key *model.APIKey) error
	Get(ctx context.Context, userID int64, provider string) (*model.APIKey, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.APIKey, error)
	Delete(ctx context.Context, userID int64, provider string) (bool, error)
}

// Credentials stores and resolves per-user provider keys.
type Credentials struct {
	keys KeyRepository
	box  *Box
}

func NewCredentials(keys KeyRepository, box *Box) *Credentials {
	return &Credentials{keys: keys, box: box}
}

func (c *Credentials) Set(ctx context.Context, userID int64, provider, apiKey string) error {
	enc, err := c.box.Encrypt(apiKey)
	if err != nil {
		return err
	}
	return c.keys.Upsert(ctx, &model.APIKey{UserID: userID, Provider: provider, EncryptedKey: enc})
}

// GetAPIKey returns the decrypted key and whether one is stored.
func (c *Credentials) GetAPIKey(ctx context.Context, userID int64, provider string) (string, bool, error) {
	rec, err := c.keys.Get(ctx, userID, provider)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	key, err := c.box.Decrypt(rec.EncryptedKey)
	if err != nil {
		return "", false, fmt.Errorf("decrypt %s key: %w", provider, err)
	}
	return key, true, nil
}

// Providers lists the providers the user holds a key for.
func (c *Credentials) Providers(ctx context.Context, userID int64) ([]string, error) {
	keys, err := c.keys.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Provider
	}
	return out, nil
}

func (c *Credentials) Delete(ctx context.Context, userID int64, provider string) (bool, error) {
	return c.keys.Delete(ctx, userID, provider)
}
