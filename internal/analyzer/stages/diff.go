package stages

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coolwithyou/review_go_server/internal/model"
)

// stage1 评审最多取单元内前几个提交的 diff，控制提示词长度
const maxDiffCommits = 5

// buildDiffText 拉取工作单元内提交的 diff 并截断。
// 截断保留 patch 开头（旧行优先），超限文件尾部丢弃。
func (e *Engine) buildDiffText(ctx context.Context, unit *model.WorkUnit) string {
	var b strings.Builder

	shas := unit.CommitSHAs
	if len(shas) > maxDiffCommits {
		shas = shas[:maxDiffCommits]
	}

	for _, sha := range shas {
		detail, err := e.diffs.GetCommitDetail(ctx, unit.RepoName, sha)
		if err != nil {
			// 单个提交拉不到不致命，评审用剩余提交的 diff
			log.Printf("Stage1: failed to fetch diff for %s@%s: %v", unit.RepoName, sha, err)
			continue
		}

		fmt.Fprintf(&b, "Commit %s: %s\n", shortSHA(sha), truncateMessage(detail.Message, 100))
		for _, f := range detail.Files {
			if f.Patch == "" {
				continue
			}
			fmt.Fprintf(&b, "--- %s (+%d -%d)\n%s\n",
				f.Filename, f.Additions, f.Deletions,
				truncatePatch(f.Patch, e.cfg.MaxDiffChars, e.cfg.MaxDiffLines))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// truncatePatch 按字符数和行数双重限制截断，保留开头
func truncatePatch(patch string, maxChars, maxLines int) string {
	if maxChars <= 0 {
		maxChars = 1500
	}
	if maxLines <= 0 {
		maxLines = 80
	}

	lines := strings.Split(patch, "\n")
	truncated := false
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}

	result := strings.Join(lines, "\n")
	if len(result) > maxChars {
		result = result[:maxChars]
		truncated = true
	}
	if truncated {
		result += "\n... (truncated)"
	}
	return result
}

func truncateMessage(msg string, maxLen int) string {
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// unitBrief 提示词里的单元摘要行
func unitBrief(u *model.WorkUnit) string {
	return fmt.Sprintf("repo=%s type=%s commits=%d loc=%d span=%s~%s paths=%s",
		u.RepoName, u.WorkType, u.CommitCount, u.Additions+u.Deletions,
		u.StartAt.Format("2006-01-02"), u.EndAt.Format("2006-01-02"),
		strings.Join(u.PrimaryPaths, ","))
}
