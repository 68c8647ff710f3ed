package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

var _ = Describe("Client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	newClient := func(mock *gitlabAPIMock) *Client {
		client, err := NewClient(config.GitLabConfig{BaseURL: mock.baseURL(), Token: "token"}, "group/app")
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	It("connects to the project", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		Expect(newClient(mock).ConnectProject(ctx)).To(Succeed())
	})

	It("pages through milestones in order", func() {
		mock := newGitLabAPIMock()
		for i := 1; i <= 5; i++ {
			mock.milestones = append(mock.milestones, glMilestone{
				ID: i, Title: "v1." + strconv.Itoa(i), State: "active",
			})
		}
		mock.start()
		defer mock.close()

		milestones, err := newClient(mock).Milestones(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(milestones).To(HaveLen(5))
		for i, milestone := range milestones {
			Expect(milestone.ID).To(Equal(int64(i + 1)))
		}
		Expect(mock.milestonePages).To(Equal([]int{1, 2, 3}))
	})

	It("creates a milestone with a due date", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
		created, err := newClient(mock).CreateMilestone(ctx, model.Milestone{
			Title:       "v1.2",
			Description: "January release",
			DueDate:     &due,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).To(Equal(int64(501)))
		Expect(created.Title).To(Equal("v1.2"))

		Expect(mock.createdMilestones).To(HaveLen(1))
		Expect(mock.createdMilestones[0]["title"]).To(Equal("v1.2"))
		Expect(mock.createdMilestones[0]["due_date"]).To(Equal("2025-01-31"))
	})

	It("lists issues changed since the cutoff, oldest first", func() {
		mock := newGitLabAPIMock()
		milestoneID := 7
		for i := 1; i <= 3; i++ {
			created := time.Date(2024, 3, i, 0, 0, 0, 0, time.UTC)
			mock.issues = append(mock.issues, glIssue{
				ID: 1000 + i, IID: i, Title: "issue " + strconv.Itoa(i),
				State:     "opened",
				Author:    &glUser{ID: 1, Username: "jsmith"},
				Labels:    []string{"bug"},
				Milestone: &glMilestone{ID: milestoneID, Title: "v1.2", State: "active"},
				CreatedAt: &created, UpdatedAt: &created,
			})
		}
		mock.start()
		defer mock.close()

		cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		issues, err := newClient(mock).IssuesSince(ctx, cutoff)
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveLen(3))
		Expect(issues[0].IID).To(Equal(int64(1)))
		Expect(issues[0].Author).To(Equal("jsmith"))
		Expect(issues[0].Labels).To(Equal([]string{"bug"}))
		Expect(issues[0].MilestoneID).To(HaveValue(Equal(int64(7))))

		Expect(mock.lastIssueQuery.Get("updated_after")).To(ContainSubstring("2024-03-01"))
		Expect(mock.lastIssueQuery.Get("sort")).To(Equal("asc"))
		Expect(mock.lastIssueQuery.Get("scope")).To(Equal("all"))
	})

	It("creates an issue with assignee, milestone and labels", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		assignee := int64(9)
		milestone := int64(7)
		issue, err := newClient(mock).CreateIssue(ctx, CreateIssueParams{
			Title:       "Crash on save",
			Description: "**Steps**: save twice",
			AssigneeID:  &assignee,
			MilestoneID: &milestone,
			Labels:      []string{"bug", "critical"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(issue.IID).To(Equal(int64(31)))
		Expect(issue.WebURL).NotTo(BeEmpty())

		Expect(mock.createdIssues).To(HaveLen(1))
		body := mock.createdIssues[0]
		Expect(body["title"]).To(Equal("Crash on save"))
		Expect(body["milestone_id"]).To(Equal(float64(7)))
		Expect(body["assignee_ids"]).To(Equal([]any{float64(9)}))
		Expect(body["labels"]).To(Equal("bug,critical"))
	})

	It("closes an issue via a state event", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		issue, err := newClient(mock).CloseIssue(ctx, 31)
		Expect(err).NotTo(HaveOccurred())
		Expect(issue.State).To(Equal(model.IssueStateClosed))

		Expect(mock.updatedIssues).To(HaveLen(1))
		Expect(mock.updatedIssues[0]["state_event"]).To(Equal("close"))
	})

	It("sets an issue milestone", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		_, err := newClient(mock).SetIssueMilestone(ctx, 31, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.updatedIssues).To(HaveLen(1))
		Expect(mock.updatedIssues[0]["milestone_id"]).To(Equal(float64(7)))
	})

	It("lists notes with the system flag and author name", func() {
		mock := newGitLabAPIMock()
		mock.notes = []glNote{
			{ID: 1, Body: "changed milestone to v1.2", System: true, Author: glUser{Username: "jsmith", Name: "Jane Smith"}},
			{ID: 2, Body: "Fixed the bug", System: false, Author: glUser{Username: "jsmith", Name: "Jane Smith"}},
			{ID: 3, Body: "no display name", Author: glUser{Username: "bot"}},
		}
		mock.start()
		defer mock.close()

		notes, err := newClient(mock).Notes(ctx, 31)
		Expect(err).NotTo(HaveOccurred())
		Expect(notes).To(HaveLen(3))
		Expect(notes[0].System).To(BeTrue())
		Expect(notes[1].System).To(BeFalse())
		Expect(notes[1].Author).To(Equal("Jane Smith"))
		Expect(notes[2].Author).To(Equal("bot"))
	})

	It("posts a note", func() {
		mock := newGitLabAPIMock()
		mock.start()
		defer mock.close()

		note, err := newClient(mock).CreateNote(ctx, 31, "Posted By: Jane Smith\n\nFixed the bug")
		Expect(err).NotTo(HaveOccurred())
		Expect(note.ID).NotTo(BeZero())
		Expect(mock.createdNotes).To(Equal([]string{"Posted By: Jane Smith\n\nFixed the bug"}))
	})

	It("resolves user ids by username", func() {
		mock := newGitLabAPIMock()
		mock.users = []glUser{{ID: 9, Username: "jsmith", Name: "Jane Smith"}}
		mock.start()
		defer mock.close()

		id, err := newClient(mock).UserIDByUsername(ctx, "jsmith")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(9)))

		_, err = newClient(mock).UserIDByUsername(ctx, "ghost")
		Expect(err).To(MatchError(ErrNotFound))
	})
})

type glUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

type glMilestone struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
	DueDate     string `json:"due_date,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

type glIssue struct {
	ID          int          `json:"id"`
	IID         int          `json:"iid"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	State       string       `json:"state"`
	WebURL      string       `json:"web_url,omitempty"`
	Author      *glUser      `json:"author,omitempty"`
	Assignees   []glUser     `json:"assignees,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
	Milestone   *glMilestone `json:"milestone,omitempty"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

type glNote struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	System    bool       `json:"system"`
	Author    glUser     `json:"author"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type gitlabAPIMock struct {
	server   *httptest.Server
	pageSize int

	milestones []glMilestone
	issues     []glIssue
	notes      []glNote
	users      []glUser

	milestonePages    []int
	lastIssueQuery    url.Values
	createdMilestones []map[string]any
	createdIssues     []map[string]any
	updatedIssues     []map[string]any
	createdNotes      []string
}

func newGitLabAPIMock() *gitlabAPIMock {
	return &gitlabAPIMock{pageSize: 2}
}

func (m *gitlabAPIMock) baseURL() string {
	return m.server.URL
}

func (m *gitlabAPIMock) start() {
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v4")
		switch {
		case strings.HasSuffix(path, "/milestones") && r.Method == http.MethodGet:
			m.handleListMilestones(w, r)
		case strings.HasSuffix(path, "/milestones") && r.Method == http.MethodPost:
			m.handleCreateMilestone(w, r)
		case strings.HasSuffix(path, "/notes") && r.Method == http.MethodGet:
			m.writePage(w, r, len(m.notes), func(start, end int) any { return m.notes[start:end] })
		case strings.HasSuffix(path, "/notes") && r.Method == http.MethodPost:
			m.handleCreateNote(w, r)
		case strings.HasSuffix(path, "/issues") && r.Method == http.MethodGet:
			m.handleListIssues(w, r)
		case strings.HasSuffix(path, "/issues") && r.Method == http.MethodPost:
			m.handleCreateIssue(w, r)
		case strings.Contains(path, "/issues/") && r.Method == http.MethodPut:
			m.handleUpdateIssue(w, r)
		case path == "/users" && r.Method == http.MethodGet:
			m.handleListUsers(w, r)
		case strings.HasPrefix(path, "/projects/") && r.Method == http.MethodGet:
			m.write(w, map[string]any{"id": 42, "path_with_namespace": "group/app"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func (m *gitlabAPIMock) close() {
	m.server.Close()
}

func (m *gitlabAPIMock) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page == 0 {
		page = 1
	}
	m.milestonePages = append(m.milestonePages, page)

	start := (page - 1) * m.pageSize
	if start >= len(m.milestones) {
		m.write(w, []glMilestone{})
		return
	}
	end := start + m.pageSize
	if end > len(m.milestones) {
		end = len(m.milestones)
	}
	if end < len(m.milestones) {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	}
	m.write(w, m.milestones[start:end])
}

func (m *gitlabAPIMock) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.createdMilestones = append(m.createdMilestones, body)

	milestone := glMilestone{ID: 501, State: "active"}
	if title, ok := body["title"].(string); ok {
		milestone.Title = title
	}
	if due, ok := body["due_date"].(string); ok {
		milestone.DueDate = due
	}
	m.write(w, milestone)
}

func (m *gitlabAPIMock) handleListIssues(w http.ResponseWriter, r *http.Request) {
	m.lastIssueQuery = r.URL.Query()
	m.writePage(w, r, len(m.issues), func(start, end int) any { return m.issues[start:end] })
}

func (m *gitlabAPIMock) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.createdIssues = append(m.createdIssues, body)

	now := time.Now().UTC()
	issue := glIssue{
		ID: 1031, IID: 31, State: "opened",
		WebURL:    m.server.URL + "/group/app/-/issues/31",
		CreatedAt: &now, UpdatedAt: &now,
	}
	if title, ok := body["title"].(string); ok {
		issue.Title = title
	}
	m.write(w, issue)
}

func (m *gitlabAPIMock) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.updatedIssues = append(m.updatedIssues, body)

	state := "opened"
	if body["state_event"] == "close" {
		state = "closed"
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	iid, _ := strconv.Atoi(parts[len(parts)-1])
	m.write(w, glIssue{ID: 1000 + iid, IID: iid, State: state})
}

func (m *gitlabAPIMock) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	text, _ := body["body"].(string)
	m.createdNotes = append(m.createdNotes, text)

	now := time.Now().UTC()
	m.write(w, glNote{ID: len(m.createdNotes), Body: text, Author: glUser{Username: "datasync"}, CreatedAt: &now})
}

func (m *gitlabAPIMock) handleListUsers(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	matched := make([]glUser, 0, 1)
	for _, user := range m.users {
		if user.Username == username {
			matched = append(matched, user)
		}
	}
	m.write(w, matched)
}

// writePage slices a collection by the page query parameter and sets the
// next-page header the client follows.
func (m *gitlabAPIMock) writePage(w http.ResponseWriter, r *http.Request, total int, slice func(start, end int) any) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page == 0 {
		page = 1
	}

	start := (page - 1) * m.pageSize
	if start >= total {
		m.write(w, []any{})
		return
	}
	end := start + m.pageSize
	if end > total {
		end = total
	}
	if end < total {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	}
	m.write(w, slice(start, end))
}

func (m *gitlabAPIMock) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
