package translate

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

var _ = Describe("Users", func() {
	var (
		ctx     context.Context
		spira   *fakeSpiraUsers
		gitlab  *fakeGitLabUsers
		mapping *Table
	)

	BeforeEach(func() {
		ctx = context.Background()
		spira = &fakeSpiraUsers{
			byID:    map[int64]model.User{12: {ID: 12, Login: "jsmith", FirstName: "Jane", LastName: "Smith"}},
			byLogin: map[string]model.User{"jsmith": {ID: 12, Login: "jsmith"}},
		}
		gitlab = &fakeGitLabUsers{ids: map[string]int64{"jsmith": 9, "mapped.user": 4}}
		mapping = NewTable([]model.ValueMapping{{InternalID: 3, ExternalValue: "mapped.user"}})
	})

	It("resolves mapped users from the table without lookups", func() {
		users := NewUsers(mapping, spira, gitlab, false)

		username, err := users.GitLabUsername(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(username).To(Equal("mapped.user"))

		id, err := users.GitLabUserID(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(4)))
	})

	It("auto-maps unmapped users by login when enabled", func() {
		users := NewUsers(mapping, spira, gitlab, true)

		id, err := users.GitLabUserID(ctx, 12)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(9)))
		Expect(spira.userCalls).To(Equal(1))
	})

	It("fails unmapped users when auto-map is disabled", func() {
		users := NewUsers(mapping, spira, gitlab, false)

		_, err := users.GitLabUsername(ctx, 12)
		Expect(err).To(MatchError(ContainSubstring("no user mapping")))
		Expect(spira.userCalls).To(BeZero())
	})

	It("resolves spira users from gitlab usernames case-insensitively", func() {
		users := NewUsers(mapping, spira, gitlab, false)

		id, err := users.SpiraUserID(ctx, "Mapped.User")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(3)))
	})

	It("auto-maps gitlab usernames through spira logins", func() {
		users := NewUsers(mapping, spira, gitlab, true)

		id, err := users.SpiraUserID(ctx, "jsmith")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(12)))
	})

	It("surfaces missing accounts as errors", func() {
		users := NewUsers(mapping, spira, gitlab, true)

		_, err := users.SpiraUserID(ctx, "ghost")
		Expect(err).To(HaveOccurred())

		_, err = users.GitLabUserID(ctx, 99)
		Expect(err).To(HaveOccurred())
	})
})

type fakeSpiraUsers struct {
	byID      map[int64]model.User
	byLogin   map[string]model.User
	userCalls int
}

func (f *fakeSpiraUsers) User(_ context.Context, userID int64) (model.User, error) {
	f.userCalls++
	if u, ok := f.byID[userID]; ok {
		return u, nil
	}
	return model.User{}, errors.New("spira: not found")
}

func (f *fakeSpiraUsers) UserByLogin(_ context.Context, login string) (model.User, error) {
	if u, ok := f.byLogin[login]; ok {
		return u, nil
	}
	return model.User{}, errors.New("spira: not found")
}

type fakeGitLabUsers struct {
	ids map[string]int64
}

func (f *fakeGitLabUsers) UserIDByUsername(_ context.Context, username string) (int64, error) {
	if id, ok := f.ids[username]; ok {
		return id, nil
	}
	return 0, errors.New("gitlab: not found")
}
