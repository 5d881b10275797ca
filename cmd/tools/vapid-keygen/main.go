// Command vapid-keygen prints a fresh VAPID key pair for web push, formatted
// as STREAMHOOK_* environment assignments.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"streamhook/internal/push"
)

func main() {
	subject := flag.String("subject", "", "contact URI sent with every push (mailto: or https:)")
	flag.Parse()

	if err := writeKeys(os.Stdout, strings.TrimSpace(*subject)); err != nil {
		fatalf("generate vapid keys: %v", err)
	}
}

func writeKeys(w io.Writer, subject string) error {
	if subject != "" && !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https://") {
		return fmt.Errorf("subject must start with mailto: or https://, got %q", subject)
	}
	public, private, err := push.GenerateVAPIDKeys(rand.Reader)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "STREAMHOOK_NOTIFY_PUSH_DRIVER=webpush\n")
	fmt.Fprintf(w, "STREAMHOOK_NOTIFY_VAPID_PUBLIC_KEY=%s\n", public)
	fmt.Fprintf(w, "STREAMHOOK_NOTIFY_VAPID_PRIVATE_KEY=%s\n", private)
	if subject != "" {
		fmt.Fprintf(w, "STREAMHOOK_NOTIFY_VAPID_SUBJECT=%s\n", subject)
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
