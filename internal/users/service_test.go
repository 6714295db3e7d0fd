package users

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/mail"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
)

type fakeRepo struct {
	users     map[int64]User
	rolePerms map[int64]authz.Permission
	nextID    int64
}

func newFakeRepo(users ...User) *fakeRepo {
	repo := &fakeRepo{users: map[int64]User{}, rolePerms: map[int64]authz.Permission{}, nextID: 1}
	for _, u := range users {
		repo.users[u.ID] = u
		if u.ID >= repo.nextID {
			repo.nextID = u.ID + 1
		}
	}
	return repo
}

func (f *fakeRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := f.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (f *fakeRepo) sorted() []User {
	out := make([]User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func likeMatch(likeTerm, value string) bool {
	pattern, err := shared.CompilePattern(strings.ReplaceAll(likeTerm, "%", "*"))
	if err != nil {
		return false
	}
	return pattern.Match(value)
}

func (f *fakeRepo) CountUsers(ctx context.Context, likeTerm string) (int, error) {
	if likeTerm == "" {
		return len(f.users), nil
	}
	count := 0
	for _, u := range f.users {
		if likeMatch(likeTerm, u.Name) || likeMatch(likeTerm, u.Email) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListUsers(ctx context.Context, likeTerm string, offset, limit int) ([]User, error) {
	var matched []User
	for _, u := range f.sorted() {
		if likeTerm == "" || likeMatch(likeTerm, u.Name) || likeMatch(likeTerm, u.Email) {
			matched = append(matched, u)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeRepo) CountUsersWithRolePermission(ctx context.Context, p authz.Permission) (int, error) {
	count := 0
	for _, u := range f.users {
		if u.IsActive && f.rolePerms[u.RoleID].Has(p) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) UserPermissions(ctx context.Context, userID int64) (authz.Permission, error) {
	u, ok := f.users[userID]
	if !ok {
		return 0, nil
	}
	return f.rolePerms[u.RoleID], nil
}

func (f *fakeRepo) RolePermissions(ctx context.Context, roleID int64) (authz.Permission, error) {
	perms, ok := f.rolePerms[roleID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return perms, nil
}

func (f *fakeRepo) CreateUser(ctx context.Context, u User) (User, error) {
	if _, err := f.GetUserByEmail(ctx, u.Email); err == nil {
		return User{}, shared.ErrDuplicateEmail
	}
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeRepo) UpdateUser(ctx context.Context, u User) error {
	if _, ok := f.users[u.ID]; !ok {
		return shared.ErrNotFound
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Email = email
	f.users[id] = u
	return nil
}

func (f *fakeRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	u, ok := f.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

func (f *fakeRepo) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeMailer struct {
	sent []mail.Message
}

func (f *fakeMailer) Enqueue(ctx context.Context, msg mail.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func testClock() func() time.Time {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestService(repo *fakeRepo, mailer *fakeMailer) *Service {
	return NewService(ServiceConfig{
		Repo:       repo,
		Tokens:     token.NewCodec([]byte("test-secret"), testClock()),
		Mailer:     mailer,
		PerPage:    25,
		TokenTTL:   15 * time.Minute,
		BaseURL:    "https://aerarium.test",
		BcryptCost: bcrypt.MinCost,
	})
}

const (
	adminRoleID  = int64(1)
	memberRoleID = int64(2)
)

func adminUser(id int64, email string) User {
	return User{ID: id, Email: email, Name: "Admin " + email, IsActive: true, RoleID: adminRoleID}
}

func memberUser(id int64, email string) User {
	return User{ID: id, Email: email, Name: "Member " + email, IsActive: true, RoleID: memberRoleID}
}

func setupRoles(repo *fakeRepo) {
	repo.rolePerms[adminRoleID] = authz.AllPermissions
	repo.rolePerms[memberRoleID] = authz.EditUser
}

func TestCreateHashesPassword(t *testing.T) {
	repo := newFakeRepo()
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	user, err := svc.Create(context.Background(), 1, CreateInput{
		Name:     "Avery",
		Email:    "Avery@Example.com",
		Password: "correct horse",
		RoleID:   memberRoleID,
		IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "avery@example.com", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeMailer{})

	_, err := svc.Create(context.Background(), 1, CreateInput{Name: "A", Email: "not-an-email", Password: "short", RoleID: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestRequestEmailChangeMailsNewAddress(t *testing.T) {
	repo := newFakeRepo(memberUser(7, "old@example.com"))
	setupRoles(repo)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	require.NoError(t, svc.RequestEmailChange(context.Background(), 7, "new@example.com"))

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "new@example.com", msg.To)
	assert.Equal(t, "email_change", msg.Template)
	link, _ := msg.Context["Link"].(string)
	assert.Contains(t, link, "https://aerarium.test/profile/email/confirm?token=")
	assert.Equal(t, 15, msg.Context["ValidMinutes"])

	// The stored address must not change until the link is followed.
	user, err := repo.GetUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", user.Email)
}

func TestRequestEmailChangeRefusesTakenAddress(t *testing.T) {
	repo := newFakeRepo(memberUser(7, "old@example.com"), memberUser(8, "taken@example.com"))
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	err := svc.RequestEmailChange(context.Background(), 7, "taken@example.com")
	assert.ErrorIs(t, err, shared.ErrDuplicateEmail)
}

func TestConfirmEmailChangeAppliesAndReplays(t *testing.T) {
	repo := newFakeRepo(memberUser(7, "old@example.com"))
	setupRoles(repo)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	require.NoError(t, svc.RequestEmailChange(context.Background(), 7, "new@example.com"))
	link, _ := mailer.sent[0].Context["Link"].(string)
	tok := link[strings.Index(link, "token=")+len("token="):]

	user, err := svc.ConfirmEmailChange(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)

	// Replaying the token is a no-op: the address is already set.
	user, err = svc.ConfirmEmailChange(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
}

func TestConfirmEmailChangeRefusesAddressTakenMeanwhile(t *testing.T) {
	repo := newFakeRepo(memberUser(7, "old@example.com"))
	setupRoles(repo)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	require.NoError(t, svc.RequestEmailChange(context.Background(), 7, "new@example.com"))
	link, _ := mailer.sent[0].Context["Link"].(string)
	tok := link[strings.Index(link, "token=")+len("token="):]

	// Another account claims the address between request and confirmation.
	repo.users[9] = memberUser(9, "new@example.com")

	_, err := svc.ConfirmEmailChange(context.Background(), tok)
	assert.ErrorIs(t, err, shared.ErrDuplicateEmail)

	user, err := repo.GetUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", user.Email)
}

func TestConfirmEmailChangeRejectsTamperedToken(t *testing.T) {
	repo := newFakeRepo(memberUser(7, "old@example.com"))
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	other := token.NewCodec([]byte("other-secret"), testClock())
	tok, err := other.EncodeEmailChange(token.EmailChangeClaims{UserID: 7, NewEmail: "evil@example.com"}, time.Minute)
	require.NoError(t, err)

	_, err = svc.ConfirmEmailChange(context.Background(), tok)
	assert.ErrorIs(t, err, token.ErrSignatureInvalid)
}

func TestConfirmAccountDeletionDeletesAndReplays(t *testing.T) {
	repo := newFakeRepo(adminUser(1, "root@example.com"), memberUser(7, "leaver@example.com"))
	setupRoles(repo)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	require.NoError(t, svc.RequestAccountDeletion(context.Background(), 7))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "leaver@example.com", mailer.sent[0].To)
	link, _ := mailer.sent[0].Context["Link"].(string)
	tok := link[strings.Index(link, "token=")+len("token="):]

	require.NoError(t, svc.ConfirmAccountDeletion(context.Background(), tok))
	_, err := repo.GetUser(context.Background(), 7)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// The account is gone; a replay reports success without side effects.
	assert.NoError(t, svc.ConfirmAccountDeletion(context.Background(), tok))
}

func TestConfirmAccountDeletionRefusesLastRoleEditor(t *testing.T) {
	repo := newFakeRepo(adminUser(1, "root@example.com"))
	setupRoles(repo)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	require.NoError(t, svc.RequestAccountDeletion(context.Background(), 1))
	link, _ := mailer.sent[0].Context["Link"].(string)
	tok := link[strings.Index(link, "token=")+len("token="):]

	err := svc.ConfirmAccountDeletion(context.Background(), tok)
	assert.ErrorIs(t, err, shared.ErrWouldLockOut)
	_, err = repo.GetUser(context.Background(), 1)
	assert.NoError(t, err)
}

func TestDeleteRefusesLastRoleEditor(t *testing.T) {
	repo := newFakeRepo(adminUser(1, "root@example.com"), memberUser(7, "member@example.com"))
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	assert.ErrorIs(t, svc.Delete(context.Background(), 1, 1), shared.ErrWouldLockOut)
	assert.NoError(t, svc.Delete(context.Background(), 1, 7))
}

func TestUpdateRefusesDemotingLastRoleEditor(t *testing.T) {
	repo := newFakeRepo(adminUser(1, "root@example.com"))
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	_, err := svc.Update(context.Background(), 1, UpdateInput{
		ID: 1, Name: "Root", Email: "root@example.com", RoleID: memberRoleID, IsActive: true,
	})
	assert.ErrorIs(t, err, shared.ErrWouldLockOut)

	// Deactivating the last role editor is refused too.
	_, err = svc.Update(context.Background(), 1, UpdateInput{
		ID: 1, Name: "Root", Email: "root@example.com", RoleID: adminRoleID, IsActive: false,
	})
	assert.ErrorIs(t, err, shared.ErrWouldLockOut)
}

func TestUpdateAllowsDemotionWithAnotherRoleEditor(t *testing.T) {
	repo := newFakeRepo(adminUser(1, "root@example.com"), adminUser(2, "second@example.com"))
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	user, err := svc.Update(context.Background(), 1, UpdateInput{
		ID: 1, Name: "Root", Email: "root@example.com", RoleID: memberRoleID, IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, memberRoleID, user.RoleID)
}

func TestDeleteRefusesLastActiveRoleEditor(t *testing.T) {
	inactive := adminUser(2, "retired@example.com")
	inactive.IsActive = false
	repo := newFakeRepo(adminUser(1, "root@example.com"), inactive)
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	// The inactive admin cannot act, so the active one is still the last
	// account able to edit roles.
	assert.ErrorIs(t, svc.Delete(context.Background(), 1, 1), shared.ErrWouldLockOut)

	// Deleting the inactive admin is fine: it takes no ability away.
	assert.NoError(t, svc.Delete(context.Background(), 1, 2))
}

func TestUpdateRefusesDemotingLastActiveRoleEditor(t *testing.T) {
	inactive := adminUser(2, "retired@example.com")
	inactive.IsActive = false
	repo := newFakeRepo(adminUser(1, "root@example.com"), inactive)
	setupRoles(repo)
	svc := newTestService(repo, &fakeMailer{})

	_, err := svc.Update(context.Background(), 1, UpdateInput{
		ID: 1, Name: "Root", Email: "root@example.com", RoleID: memberRoleID, IsActive: true,
	})
	assert.ErrorIs(t, err, shared.ErrWouldLockOut)

	_, err = svc.Update(context.Background(), 1, UpdateInput{
		ID: 1, Name: "Root", Email: "root@example.com", RoleID: adminRoleID, IsActive: false,
	})
	assert.ErrorIs(t, err, shared.ErrWouldLockOut)

	// The inactive admin can be demoted freely.
	user, err := svc.Update(context.Background(), 1, UpdateInput{
		ID: 2, Name: "Retired", Email: "retired@example.com", RoleID: memberRoleID, IsActive: false,
	})
	require.NoError(t, err)
	assert.Equal(t, memberRoleID, user.RoleID)
}

func TestListPaginatesAndFilters(t *testing.T) {
	repo := newFakeRepo()
	setupRoles(repo)
	for i := 0; i < 30; i++ {
		id := int64(i + 1)
		repo.users[id] = User{ID: id, Email: "user" + string(rune('a'+i%26)) + "@example.com", Name: "User " + string(rune('a'+i%26)), RoleID: memberRoleID}
	}
	svc := newTestService(repo, &fakeMailer{})

	listing, err := svc.List(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, listing.Page.Current)
	assert.Equal(t, 30, listing.Page.Total)
	assert.Len(t, listing.Users, 5)

	listing, err = svc.List(context.Background(), "*usera*", 1)
	require.NoError(t, err)
	for _, u := range listing.Users {
		assert.Contains(t, strings.ToLower(u.Email), "usera")
	}
}
