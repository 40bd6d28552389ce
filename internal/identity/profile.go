package identity

import (
	"fmt"
	"math/rand/v2"
)

var (
	adjectives = []string{"Cool", "Smart", "Fast", "Bright", "Happy", "Lucky", "Swift", "Bold", "Calm", "Wise"}
	nouns      = []string{"Tiger", "Eagle", "Wolf", "Lion", "Fox", "Bear", "Hawk", "Shark", "Panda", "Falcon"}

	avatarColors = []string{
		"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
		"#DDA0DD", "#98D8C8", "#F7DC6F", "#85C1E9", "#F8C471",
		"#82E0AA", "#F1948A", "#BB8FCE", "#85C1E9", "#F9E79F",
	}

	statuses = []string{
		"Hey there! I am using WhatsApp.",
		"Busy",
		"At work",
		"Available",
		"Can't talk, WhatsApp only",
		"In a meeting",
		"Sleeping",
		"Urgent calls only",
	}
)

// RandomName は "CoolTiger042" 形式の表示名を生成します
func RandomName() string {
	return fmt.Sprintf("%s%s%03d", pick(adjectives), pick(nouns), rand.IntN(999))
}

func RandomAvatarColor() string { return pick(avatarColors) }

func RandomStatus() string { return pick(statuses) }

func pick(xs []string) string { return xs[rand.IntN(len(xs))] }
