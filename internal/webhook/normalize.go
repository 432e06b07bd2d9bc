// ABOUTME: Normalizes raw code-host webhook payloads into internal events
// ABOUTME: Unknown event types stay stored but unprocessed

package webhook

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v66/github"
)

// errUnhandledEvent marks event types we store but do not act on.
var errUnhandledEvent = errors.New("webhook: unhandled event type")

// Normalized is the internal shape of one webhook event after parsing.
type Normalized struct {
	// EventType is the derived notification event type, e.g.
	// "webhook.pr_opened".
	EventType      string
	Action         string
	Repo           string
	PRNumber       int
	IssueNumber    int
	Author         string
	Ref            string
	SHA            string
	PRBody         string
	PRURL          string
	InstallationID int64
	Message        string
}

// normalize parses a raw payload for a given event-type header. It
// returns errUnhandledEvent for types outside the handled set.
func normalize(eventType string, payload []byte) (*Normalized, error) {
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", eventType, err)
	}

	switch e := parsed.(type) {
	case *github.PullRequestEvent:
		return normalizePullRequest(e)
	case *github.PullRequestReviewEvent:
		n := &Normalized{
			EventType:      "webhook.review_submitted",
			Action:         e.GetAction(),
			Repo:           e.GetRepo().GetFullName(),
			PRNumber:       e.GetPullRequest().GetNumber(),
			Author:         e.GetReview().GetUser().GetLogin(),
			InstallationID: e.GetInstallation().GetID(),
		}
		n.Message = fmt.Sprintf("%s reviewed PR %d on %s", n.Author, n.PRNumber, n.Repo)
		return n, nil
	case *github.CheckSuiteEvent:
		n := &Normalized{
			Action:         e.GetAction(),
			Repo:           e.GetRepo().GetFullName(),
			SHA:            e.GetCheckSuite().GetHeadSHA(),
			Ref:            e.GetCheckSuite().GetHeadBranch(),
			InstallationID: e.GetInstallation().GetID(),
		}
		if e.GetCheckSuite().GetConclusion() == "failure" {
			n.EventType = "webhook.check_suite_failed"
			n.Message = fmt.Sprintf("Checks failed on %s (%s)", n.Repo, n.Ref)
		} else {
			n.EventType = "webhook.check_suite_completed"
			n.Message = fmt.Sprintf("Checks finished on %s (%s)", n.Repo, n.Ref)
		}
		return n, nil
	case *github.IssueCommentEvent:
		n := &Normalized{
			EventType:      "webhook.issue_comment",
			Action:         e.GetAction(),
			Repo:           e.GetRepo().GetFullName(),
			IssueNumber:    e.GetIssue().GetNumber(),
			Author:         e.GetComment().GetUser().GetLogin(),
			InstallationID: e.GetInstallation().GetID(),
		}
		n.Message = fmt.Sprintf("%s commented on %s#%d", n.Author, n.Repo, n.IssueNumber)
		return n, nil
	case *github.PushEvent:
		n := &Normalized{
			EventType:      "webhook.push",
			Repo:           e.GetRepo().GetFullName(),
			Author:         e.GetSender().GetLogin(),
			Ref:            e.GetRef(),
			SHA:            e.GetAfter(),
			InstallationID: e.GetInstallation().GetID(),
		}
		n.Message = fmt.Sprintf("%s pushed to %s (%s)", n.Author, n.Repo, n.Ref)
		return n, nil
	default:
		return nil, errUnhandledEvent
	}
}

func normalizePullRequest(e *github.PullRequestEvent) (*Normalized, error) {
	n := &Normalized{
		Action:         e.GetAction(),
		Repo:           e.GetRepo().GetFullName(),
		PRNumber:       e.GetPullRequest().GetNumber(),
		Author:         e.GetPullRequest().GetUser().GetLogin(),
		Ref:            e.GetPullRequest().GetHead().GetRef(),
		SHA:            e.GetPullRequest().GetHead().GetSHA(),
		PRBody:         e.GetPullRequest().GetBody(),
		PRURL:          e.GetPullRequest().GetHTMLURL(),
		InstallationID: e.GetInstallation().GetID(),
	}

	switch e.GetAction() {
	case "opened":
		n.EventType = "webhook.pr_opened"
		n.Message = fmt.Sprintf("%s opened PR %d on %s: %s", n.Author, n.PRNumber, n.Repo, e.GetPullRequest().GetTitle())
	case "closed":
		if e.GetPullRequest().GetMerged() {
			n.EventType = "webhook.pr_merged"
			n.Message = fmt.Sprintf("PR %d on %s was merged", n.PRNumber, n.Repo)
		} else {
			n.EventType = "webhook.pr_closed"
			n.Message = fmt.Sprintf("PR %d on %s was closed", n.PRNumber, n.Repo)
		}
	case "reopened":
		n.EventType = "webhook.pr_reopened"
		n.Message = fmt.Sprintf("PR %d on %s was reopened", n.PRNumber, n.Repo)
	case "synchronize":
		n.EventType = "webhook.pr_synchronize"
		n.Message = fmt.Sprintf("PR %d on %s was updated", n.PRNumber, n.Repo)
	case "labeled":
		n.EventType = "webhook.pr_labeled"
		n.Message = fmt.Sprintf("PR %d on %s was labeled %s", n.PRNumber, n.Repo, e.GetLabel().GetName())
	case "unlabeled":
		n.EventType = "webhook.pr_unlabeled"
		n.Message = fmt.Sprintf("PR %d on %s was unlabeled", n.PRNumber, n.Repo)
	case "review_requested":
		n.EventType = "webhook.review_requested"
		n.Message = fmt.Sprintf("Review requested on PR %d (%s)", n.PRNumber, n.Repo)
	default:
		return nil, errUnhandledEvent
	}
	return n, nil
}
