package domaintest

import (
	"context"

	appctx "docchat/internal/core/context"
	"docchat/internal/domain/access"
)

type txKey struct{}

// TxManager runs fn without a database and counts rollbacks.
type TxManager struct {
	Rollbacks int
}

func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.Rollbacks++
		return err
	}
	return nil
}

// InTransaction reports whether ctx was handed out by TxManager.
func InTransaction(ctx context.Context) bool {
	in, _ := ctx.Value(txKey{}).(bool)
	return in
}

// Gate returns an access gate over an in-memory grants table.
func Gate() (*access.Gate, *MemRepo[access.AccessControl]) {
	grants := NewMemRepo[access.AccessControl](access.Table)
	return access.NewGate(grants, nil), grants
}

// AsUser returns a context carrying a regular caller.
func AsUser(userID int64) context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: userID})
}

// AsSuperuser returns a context carrying a superuser caller.
func AsSuperuser(userID int64) context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: userID, IsSuperuser: true})
}
