package util

import "math/rand/v2"

// PickVoice returns configured when it is one of voices, otherwise a random entry.
func PickVoice(configured string, voices []string) string {
	for _, v := range voices {
		if v == configured {
			return v
		}
	}
	if len(voices) == 0 {
		return ""
	}
	return voices[rand.IntN(len(voices))]
}
