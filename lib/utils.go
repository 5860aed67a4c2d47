package relay

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"filippo.io/age"
	"github.com/sirupsen/logrus"
)

// BuildCommand assembles an *exec.Cmd from a base command and additional
// arguments, defaulting Stdout to os.Stderr so that child process chatter
// never lands on a stream a caller might be treating as data (teacher's
// lib/utils.go BuildCommand).
func BuildCommand(command []string, additionalArgs ...string) *exec.Cmd {
	fullArgs := append(append([]string{}, command...), additionalArgs...)
	cmd := exec.Command(fullArgs[0], fullArgs[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd
}

// StartCommand starts cmd, logging the invocation first.
func StartCommand(log *logrus.Entry, cmd *exec.Cmd) error {
	log.Debugf("starting: %s", cmd.String())
	return cmd.Start()
}

// RunCommand runs cmd to completion, logging the invocation first.
func RunCommand(log *logrus.Entry, cmd *exec.Cmd) error {
	log.Debugf("running: %s", cmd.String())
	return cmd.Run()
}

// LoadRecipients loads age public keys either from a file (if keyFile is
// non-empty) or from the key argument's content directly, for the shell
// endpoint's optional encrypt-on-send support.
func LoadRecipients(keyFile, key string) ([]age.Recipient, error) {
	if keyFile != "" && key != "" {
		return nil, fmt.Errorf("must provide one of key file or key, not both")
	}

	if keyFile != "" {
		keyData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}
		key = string(keyData)
	}

	return age.ParseRecipients(bytes.NewBufferString(key))
}
