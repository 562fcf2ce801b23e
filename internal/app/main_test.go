package app

import (
	"fmt"
	"os"
	"testing"
	"time"
)

const helperEnv = "LOCUS_APP_HELPER"

// TestMain turns the test binary into a fake backend when helperEnv is set.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		fmt.Println("LOCUS System Starting...")
		fmt.Println("instance=" + os.Getenv(EnvInstanceID))
		fmt.Println("parent=" + os.Getenv(EnvParentPID))
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}
