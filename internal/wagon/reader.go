package wagon

import (
	"context"
	"io"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

// reader is the read accessor of a connection. The store session is opened
// on first use and reused until the connection closes.
type reader struct {
	open func(ctx context.Context) (store.Repository, error)
	repo store.Repository
}

func (r *reader) repository(ctx context.Context) (store.Repository, error) {
	if r.repo == nil {
		repo, err := r.open(ctx)
		if err != nil {
			return nil, err
		}
		r.repo = repo
	}
	return r.repo, nil
}

func (r *reader) kindOf(ctx context.Context, p string) (domain.NodeKind, error) {
	repo, err := r.repository(ctx)
	if err != nil {
		return domain.KindNone, err
	}
	return repo.CheckPath(ctx, p)
}

// infoOf returns nil without error when p does not exist
func (r *reader) infoOf(ctx context.Context, p string) (*store.Entry, error) {
	repo, err := r.repository(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Info(ctx, p)
}

func (r *reader) streamContent(ctx context.Context, p string, w io.Writer) (int64, error) {
	repo, err := r.repository(ctx)
	if err != nil {
		return 0, err
	}
	return repo.GetFile(ctx, p, w)
}

func (r *reader) list(ctx context.Context, p string) ([]store.Entry, error) {
	repo, err := r.repository(ctx)
	if err != nil {
		return nil, err
	}
	return repo.GetDir(ctx, p)
}

func (r *reader) close() error {
	if r.repo == nil {
		return nil
	}
	err := r.repo.Close()
	r.repo = nil
	return err
}
