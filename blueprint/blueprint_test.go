package blueprint

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/storage/mem"
	"github.com/Comcast/automata/util/testutil"
)

type countingVerifier struct {
	Verifier
	n int32
}

func (v *countingVerifier) Verify(msg []byte, sig, pub string) error {
	atomic.AddInt32(&v.n, 1)
	return v.Verifier.Verify(msg, sig, pub)
}

func (v *countingVerifier) calls() int {
	return int(atomic.LoadInt32(&v.n))
}

type fixture struct {
	resolver *Resolver
	verifier *countingVerifier
	store    *mem.Storage
	priv     ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()

	pub, priv, err := GenerateKey()
	require.NoError(t, err)
	line, err := MarshalPublicKey(pub)
	require.NoError(t, err)

	s := mem.NewStorage()
	require.NoError(t, s.PutAccount(ctx, &storage.Account{ID: "acct1", PublicKey: line}))
	require.NoError(t, s.PutApp(ctx, &storage.App{ID: "app1", AccountID: "acct1"}))
	require.NoError(t, s.PutApp(ctx, &storage.App{ID: "orphan", AccountID: "nobody"}))

	builtins, err := StandardBuiltins()
	require.NoError(t, err)

	r := NewResolver(s, s, builtins)
	v := &countingVerifier{Verifier: r.Verifier}
	r.Verifier = v

	return &fixture{
		resolver: r,
		verifier: v,
		store:    s,
		priv:     priv,
	}
}

const userJSON = `{
  "name": "door",
  "appId": "app1",
  "stateSchema": "open: bool",
  "eventSchemas": {"OPEN": "", "CLOSE": ""},
  "transition": {"source": "({open: _.event.type == 'OPEN'})"},
  "initialState": {"open": false, "meta": {"b": 2, "a": 1}}
}`

// Same content with keys in a different order.
const userJSONReordered = `{
  "initialState": {"meta": {"a": 1, "b": 2}, "open": false},
  "transition": {"source": "({open: _.event.type == 'OPEN'})"},
  "eventSchemas": {"CLOSE": "", "OPEN": ""},
  "stateSchema": "open: bool",
  "appId": "app1",
  "name": "door"
}`

func parse(t *testing.T, js string) *Content {
	c, err := Parse([]byte(js))
	require.NoError(t, err)
	return c
}

func TestResolveIdempotent(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		c1  = parse(t, userJSON)
		c2  = parse(t, userJSONReordered)
	)

	sig, err := Sign(f.priv, c1)
	require.NoError(t, err)

	id1, err := f.resolver.Resolve(ctx, c1, sig, "acct1")
	require.NoError(t, err)
	require.Equal(t, 1, f.verifier.calls())

	id2, err := f.resolver.Resolve(ctx, c2, sig, "acct1")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, f.verifier.calls(), "second resolve should not verify")

	// Even without a signature, a stored blueprint resolves.
	id3, err := f.resolver.Resolve(ctx, c2, "", "acct1")
	require.NoError(t, err)
	require.Equal(t, id1, id3)

	got, b, err := f.resolver.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "door", got.Name)
	require.Equal(t, sig, b.Signature)
	require.Equal(t, "acct1", b.CreatorAccountID)
}

func TestResolveConcurrent(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		c   = parse(t, userJSON)
		n   = 10
		ids = make([]string, n)
		wg  sync.WaitGroup
	)

	sig, err := Sign(f.priv, c)
	require.NoError(t, err)

	cs := make([]*Content, n)
	for i := range cs {
		cs[i] = parse(t, userJSON)
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.resolver.Resolve(ctx, cs[i], sig, "acct1")
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.NotEmpty(t, ids[0])
}

func TestResolveUserErrors(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	c := parse(t, userJSON)
	sig, err := Sign(f.priv, c)
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, c, "", "acct1")
	require.ErrorIs(t, err, SignatureRequired)

	noApp := parse(t, userJSON)
	noApp.AppID = "nope"
	_, err = f.resolver.Resolve(ctx, noApp, sig, "acct1")
	require.ErrorIs(t, err, AppNotFound)

	orphan := parse(t, userJSON)
	orphan.AppID = "orphan"
	_, err = f.resolver.Resolve(ctx, orphan, sig, "acct1")
	require.ErrorIs(t, err, AccountNotFound)

	// Signature over different content.
	tampered := parse(t, userJSON)
	tampered.Name = "window"
	_, err = f.resolver.Resolve(ctx, tampered, sig, "acct1")
	require.ErrorIs(t, err, InvalidSignature)
	require.Equal(t, "InvalidSignature", core.Code(err))

	_, err = f.resolver.Resolve(ctx, c, "!!!", "acct1")
	require.ErrorIs(t, err, InvalidSignature)

	// Nothing stored.
	id, _, err := ID(tampered)
	require.NoError(t, err)
	_, err = f.store.GetBlueprint(ctx, id)
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestResolveBuiltins(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	counter, have := f.resolver.Builtins.Get("counter")
	require.True(t, have)
	want, have := f.resolver.Builtins.ID("counter")
	require.True(t, have)

	// A copy of the builtin arriving as JSON.
	js, err := Canonical(counter)
	require.NoError(t, err)
	id, err := f.resolver.Resolve(ctx, parse(t, string(js)), "", "")
	require.NoError(t, err)
	require.Equal(t, want, id)
	require.Equal(t, 0, f.verifier.calls())

	modified := parse(t, string(js))
	modified.Transition.Source = "return _.state;"
	_, err = f.resolver.Resolve(ctx, modified, "", "")
	require.ErrorIs(t, err, HashMismatch)

	unknown := parse(t, string(js))
	unknown.Name = "nope"
	_, err = f.resolver.Resolve(ctx, unknown, "", "")
	require.ErrorIs(t, err, UnknownBuiltin)
	require.Equal(t, "UnknownBuiltin", core.Code(err))
}

func TestStandardBuiltins(t *testing.T) {
	b, err := StandardBuiltins()
	require.NoError(t, err)
	require.Equal(t, []string{"counter", "toggle"}, b.Names())

	c, _ := b.Get("counter")
	d := c.Descriptor()
	require.Equal(t, []string{"INCREMENT", "RESET"}, d.EventTypes())
	require.Equal(t, "goja", d.Interpreter())
	require.Equal(t, `{"count":0}`, testutil.JS(c.InitialState))

	c, _ = b.Get("toggle")
	require.Equal(t, "starlark", c.Descriptor().Interpreter())
}

func TestCanonical(t *testing.T) {
	// "é" composed vs decomposed.
	a, err := Canonical(map[string]interface{}{"s": "café", "h": "<&>"})
	require.NoError(t, err)
	b, err := Canonical(map[string]interface{}{"h": "<&>", "s": "cafe\u0301"})
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
	require.Equal(t, `{"h":"<&>","s":"café"}`, string(a))
	require.Equal(t, Hash(a), Hash(b))
	require.Len(t, Hash(a), 64)
}

func TestKeys(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	line, err := MarshalPublicKey(pub)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "ssh-ed25519 "))

	got, err := ParsePublicKey(line)
	require.NoError(t, err)
	require.Equal(t, pub, got)

	got, err = ParsePublicKey(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)
	require.Equal(t, pub, got)

	_, err = ParsePublicKey("AAAA")
	require.Error(t, err)

	again, err := DecodePrivateKey(EncodePrivateKey(priv))
	require.NoError(t, err)
	require.Equal(t, priv, again)
}

func TestRenderHTML(t *testing.T) {
	b, err := StandardBuiltins()
	require.NoError(t, err)
	c, _ := b.Get("counter")

	html := string(RenderHTML(c))
	require.Contains(t, html, `<h1 class="blueprintName">counter</h1>`)
	require.Contains(t, html, `<code>INCREMENT</code>`)
	require.Contains(t, html, "<p>A counter.</p>")
	require.Contains(t, html, "<code>amount</code>")
}

func TestResolveCreator(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		c   = parse(t, userJSON)
	)

	sig, err := Sign(f.priv, c)
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, c, sig, "mallory")
	require.ErrorIs(t, err, core.Forbidden)

	id, err := f.resolver.Resolve(ctx, c, sig, "")
	require.NoError(t, err)

	_, b, err := f.resolver.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "acct1", b.CreatorAccountID)
}
