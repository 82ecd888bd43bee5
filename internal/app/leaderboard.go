package app

import (
	"sort"

	"million-dialogue/internal/domain"
)

// BuildLeaderboard ranks score entries by points desc, correct answers desc,
// then user id. Entries with equal points and correct answers share a rank.
func BuildLeaderboard(scores map[string]*domain.ScoreEntry) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, s := range scores {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:            s.UserID,
			DisplayName:       s.DisplayName,
			TotalPoints:       s.TotalPoints,
			CorrectAnswers:    s.CorrectAnswers,
			QuestionsAnswered: s.QuestionsAnswered,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalPoints != entries[j].TotalPoints {
			return entries[i].TotalPoints > entries[j].TotalPoints
		}
		if entries[i].CorrectAnswers != entries[j].CorrectAnswers {
			return entries[i].CorrectAnswers > entries[j].CorrectAnswers
		}
		return entries[i].UserID < entries[j].UserID
	})

	for i := range entries {
		if i > 0 &&
			entries[i].TotalPoints == entries[i-1].TotalPoints &&
			entries[i].CorrectAnswers == entries[i-1].CorrectAnswers {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
	return entries
}
