package state

import (
	"time"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		start: time.Now(),
		DefaultPlaceholder: []byte(`<svg viewBox="0 0 600 600" xmlns="http://www.w3.org/2000/svg">
  <rect x="20" y="20" width="560" height="560" rx="24" fill="#f4f1ea" stroke="black" stroke-width="2"/>
  <path d="M60 480 L220 280 L320 400 L400 320 L540 480 Z" fill="#d8d2c4" stroke="black" stroke-width="2"/>
  <path d="M450 150 A40 40 0 1 1 449.9 150" fill="#e8dcb0" stroke="black" stroke-width="2"/>
  <path d="M100 540 H500" stroke="black" stroke-width="1"/>
</svg>`),
	}
}
