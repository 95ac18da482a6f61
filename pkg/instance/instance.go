package instance

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/wishspace-backend/pkg/env"
)

var (
	once     sync.Once
	resolved string
)

// GetID returns the process instance identifier. WISHSPACE_INSTANCE_ID or the
// platform DYNO name wins when set; otherwise the host name plus a random suffix is used so that two
// processes on one host never collide. The value is stable for the process.
func GetID() string {
	once.Do(func() {
		if id := env.First("", "WISHSPACE_INSTANCE_ID", "DYNO"); id != "" {
			resolved = id
			return
		}
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "instance"
		}
		resolved = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	})
	return resolved
}
