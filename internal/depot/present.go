package depot

import (
	"fmt"
	"unicode/utf8"

	"depot/internal/model"
)

const (
	summaryLimit = 10
	selectLimit  = 25
	labelLimit   = 100
	overflowMark = "..."
)

// Summary is the resource list shown for a thread.
type Summary struct {
	Secure  []string
	Normal  []string
	Private bool
}

// Option is one entry of a selection widget. Value is the resource id.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Summarize renders the first ten resources of each group. Normal resources
// link to their message; secure resources show their download count.
func Summarize(g *Grouping, origin RequestOrigin) Summary {
	s := Summary{Private: origin == nil || origin.Private()}
	s.Secure = summaryLines(g.Secure, func(r *model.Resource) string {
		return fmt.Sprintf("%s · %d downloads", resourceTitle(r), r.DownloadCount)
	})
	s.Normal = summaryLines(g.Normal, func(r *model.Resource) string {
		if origin == nil || origin.GuildID() == "" {
			return resourceTitle(r)
		}
		return fmt.Sprintf("%s %s", resourceTitle(r), JumpLink(origin.GuildID(), origin.ContainerID(), r.SourceItemID))
	})
	return s
}

func summaryLines(resources []*model.Resource, line func(*model.Resource) string) []string {
	var lines []string
	for i, r := range resources {
		if i == summaryLimit {
			lines = append(lines, overflowMark)
			break
		}
		lines = append(lines, line(r))
	}
	return lines
}

// SelectOptions returns at most 25 options with labels capped at 100 characters.
func SelectOptions(resources []*model.Resource) []Option {
	n := min(len(resources), selectLimit)
	opts := make([]Option, 0, n)
	for _, r := range resources[:n] {
		desc := "referenced message"
		if r.Mode == model.ModeStored {
			desc = "protected file"
		}
		if r.HasPassword() {
			desc += ", password required"
		}
		opts = append(opts, Option{
			Label:       truncateLabel(resourceTitle(r)),
			Value:       r.ID,
			Description: desc,
		})
	}
	return opts
}

func resourceTitle(r *model.Resource) string {
	name := r.DisplayName()
	if name == "" {
		return r.VersionLabel
	}
	return fmt.Sprintf("%s (%s)", r.VersionLabel, name)
}

func truncateLabel(s string) string {
	if utf8.RuneCountInString(s) <= labelLimit {
		return s
	}
	return string([]rune(s)[:labelLimit-10]) + overflowMark
}
