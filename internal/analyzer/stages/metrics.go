package stages

import (
	"regexp"
	"strings"
	"time"

	"github.com/coolwithyou/review_go_server/internal/model"
)

var conventionalRe = regexp.MustCompile(`^(feat|fix|refactor|docs|test|style|chore|perf|build|ci|revert)(\(.+\))?!?:`)

// ComputeMetrics 从提交和工作单元聚合年度统计指标。
// 纯函数，不依赖外部状态，供第二/三/四阶段提示词使用。
func ComputeMetrics(commits []*model.Commit, units []*model.WorkUnit) Metrics {
	m := Metrics{
		TotalCommits:     len(commits),
		WorkTypes:        make(map[string]int),
		TimeDistribution: make(map[string]int),
	}

	days := make(map[string]struct{})
	repos := make(map[int64]struct{})
	weekend := 0
	var msgLenSum, conventional int

	for _, c := range commits {
		m.TotalAdditions += c.Additions
		m.TotalDeletions += c.Deletions
		repos[c.RepoID] = struct{}{}
		days[c.CommittedAt.Format("2006-01-02")] = struct{}{}

		if wd := c.CommittedAt.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend++
		}

		switch h := c.CommittedAt.Hour(); {
		case h >= 6 && h < 12:
			m.TimeDistribution["morning"]++
		case h >= 12 && h < 18:
			m.TimeDistribution["afternoon"]++
		case h >= 18 && h < 24:
			m.TimeDistribution["evening"]++
		default:
			m.TimeDistribution["night"]++
		}

		first := c.Message
		if idx := strings.IndexByte(first, '\n'); idx >= 0 {
			first = first[:idx]
		}
		msgLenSum += len(first)
		if conventionalRe.MatchString(first) {
			conventional++
		}
		if strings.HasPrefix(first, "Merge ") {
			m.MergeCommits++
		}
	}

	m.ActiveDays = len(days)
	m.RepoCount = len(repos)
	if len(commits) > 0 {
		m.WeekendRatio = round1(float64(weekend) / float64(len(commits)))
		m.AvgMessageLength = round1(float64(msgLenSum) / float64(len(commits)))
		m.ConventionalRate = round1(float64(conventional) / float64(len(commits)))
	}

	for _, u := range units {
		m.WorkTypes[u.WorkType]++
	}
	return m
}
