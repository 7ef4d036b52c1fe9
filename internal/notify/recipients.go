package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/repository"
)

// RecipientResolver 决定跟进事件通知谁
type RecipientResolver interface {
	Recipients(ctx context.Context, kind model.NotificationKind, f *model.Followup, actorID string) ([]string, error)
}

// DirectoryResolver 按用户目录确定收件人：
//   - created：主体作者、其督导以及所属机构的 casa admin
//   - resolved：跟进创建人
//
// 操作者本人不会收到通知。用户与管理员查询结果有本地缓存。
type DirectoryResolver struct {
	users    repository.UserRepository
	contacts repository.CaseContactRepository
	cache    *gocache.Cache
}

func NewDirectoryResolver(users repository.UserRepository, contacts repository.CaseContactRepository, ttl time.Duration) *DirectoryResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DirectoryResolver{users: users, contacts: contacts, cache: gocache.New(ttl, 2*ttl)}
}

func (r *DirectoryResolver) Recipients(ctx context.Context, kind model.NotificationKind, f *model.Followup, actorID string) ([]string, error) {
	set := newRecipientSet(actorID)
	if kind == model.NotificationResolved {
		set.add(f.CreatorID)
		return set.list(), nil
	}

	orgUser := actorID
	if f.SubjectType == model.SubjectTypeCaseContact {
		cc, err := r.contacts.GetByID(ctx, f.SubjectID)
		switch {
		case err == nil:
			set.add(cc.CreatorID)
			author, err := r.user(ctx, cc.CreatorID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			if author != nil {
				orgUser = author.ID
				if author.SupervisorID != nil {
					set.add(*author.SupervisorID)
				}
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			return nil, fmt.Errorf("load case contact %s: %w", f.SubjectID, err)
		}
	}

	u, err := r.user(ctx, orgUser)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return set.list(), nil
		}
		return nil, err
	}
	admins, err := r.admins(ctx, u.CasaOrgID)
	if err != nil {
		return nil, err
	}
	for _, id := range admins {
		set.add(id)
	}
	return set.list(), nil
}

func (r *DirectoryResolver) user(ctx context.Context, id string) (*model.User, error) {
	key := "user:" + id
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.User), nil
	}
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, u)
	return u, nil
}

func (r *DirectoryResolver) admins(ctx context.Context, orgID string) ([]string, error) {
	key := "admins:" + orgID
	if v, ok := r.cache.Get(key); ok {
		return v.([]string), nil
	}
	list, err := r.users.ListByOrgRole(ctx, orgID, model.RoleCasaAdmin)
	if err != nil {
		return nil, fmt.Errorf("list casa admins: %w", err)
	}
	ids := make([]string, len(list))
	for i, u := range list {
		ids[i] = u.ID
	}
	r.cache.SetDefault(key, ids)
	return ids, nil
}

// recipientSet 保持插入顺序，去掉操作者和重复项
type recipientSet struct {
	actor string
	seen  map[string]struct{}
	ids   []string
}

func newRecipientSet(actor string) *recipientSet {
	return &recipientSet{actor: actor, seen: map[string]struct{}{}}
}

func (s *recipientSet) add(id string) {
	if id == "" || id == s.actor {
		return
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}

func (s *recipientSet) list() []string { return s.ids }
