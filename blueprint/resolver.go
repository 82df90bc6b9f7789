package blueprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
)

// Resolver turns content into a trusted, stored blueprint id.
type Resolver struct {
	Blueprints storage.Blueprints
	Directory  storage.Directory
	Builtins   *Builtins
	Verifier   Verifier

	// Now is used for CreatedAt.  Nil means time.Now.
	Now func() time.Time
}

// NewResolver makes a Resolver that uses the Ed25519Verifier.
func NewResolver(bs storage.Blueprints, dir storage.Directory, builtins *Builtins) *Resolver {
	return &Resolver{
		Blueprints: bs,
		Directory:  dir,
		Builtins:   builtins,
		Verifier:   Ed25519Verifier{},
	}
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Resolve returns the id for the content, storing the blueprint if
// it's new and verifies.
//
// A user blueprint's creator is the Account that signed it.  A
// non-empty creatorAccountID that names a different Account is
// core.Forbidden.
//
// A blueprint that's already stored is returned without any
// verification.  When two resolvers race to store the same new
// content, both get the same id.
func (r *Resolver) Resolve(ctx context.Context, c *Content, signature, creatorAccountID string) (string, error) {
	id, canonical, err := ID(c)
	if err != nil {
		return "", err
	}

	if _, err := r.Blueprints.GetBlueprint(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	signer, err := r.verify(ctx, c, id, canonical, signature)
	if err != nil {
		log.Info().Err(err).Str("blueprint", id).Str("name", c.Name).Msg("blueprint rejected")
		return "", err
	}
	if signer != "" {
		if creatorAccountID != "" && creatorAccountID != signer {
			return "", fmt.Errorf("%w: account %q didn't sign app %q", core.Forbidden, creatorAccountID, c.AppID)
		}
		creatorAccountID = signer
	}

	b := &storage.Blueprint{
		ID:               id,
		Content:          canonical,
		Signature:        signature,
		CreatorAccountID: creatorAccountID,
		CreatedAt:        r.now(),
	}
	stored, err := r.Blueprints.PutBlueprintIfAbsent(ctx, b)
	if err != nil {
		return "", err
	}

	log.Debug().Str("blueprint", stored.ID).Str("name", c.Name).Msg("blueprint stored")

	return stored.ID, nil
}

// verify returns the id of the Account that signed a user
// blueprint.  Builtins have no signer.
func (r *Resolver) verify(ctx context.Context, c *Content, id string, canonical []byte, signature string) (string, error) {
	if c.Builtin {
		if r.Builtins == nil {
			return "", fmt.Errorf("%w: %q", UnknownBuiltin, c.Name)
		}
		return "", r.Builtins.Verify(c, id)
	}

	if signature == "" {
		return "", SignatureRequired
	}

	app, err := r.Directory.GetApp(ctx, c.AppID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %q", AppNotFound, c.AppID)
	}
	if err != nil {
		return "", err
	}

	acct, err := r.Directory.GetAccount(ctx, app.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %q", AccountNotFound, app.AccountID)
	}
	if err != nil {
		return "", err
	}

	if err := r.Verifier.Verify(canonical, signature, acct.PublicKey); err != nil {
		return "", err
	}
	return acct.ID, nil
}

// Get returns the stored content for the id.
func (r *Resolver) Get(ctx context.Context, id string) (*Content, *storage.Blueprint, error) {
	b, err := r.Blueprints.GetBlueprint(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	c, err := Parse(b.Content)
	if err != nil {
		return nil, nil, err
	}
	return c, b, nil
}
