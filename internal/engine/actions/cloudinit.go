package actions

import (
	"fmt"
	"strings"
)

// rootPasswordUserData returns a cloud-config document that sets the root password
// and allows password logins over SSH, including for root.
func rootPasswordUserData(password string) (string, error) {
	if strings.ContainsAny(password, "\r\n") {
		return "", fmt.Errorf("password must not contain line breaks")
	}

	var b strings.Builder
	b.WriteString("#cloud-config\n")
	b.WriteString("ssh_pwauth: true\n")
	b.WriteString("chpasswd:\n")
	b.WriteString("  expire: false\n")
	b.WriteString("  list: |\n")
	b.WriteString("    root:" + password + "\n")
	b.WriteString("runcmd:\n")
	b.WriteString("  - sed -i -E 's/^#?PasswordAuthentication .*/PasswordAuthentication yes/' /etc/ssh/sshd_config\n")
	b.WriteString("  - sed -i -E 's/^#?PermitRootLogin .*/PermitRootLogin yes/' /etc/ssh/sshd_config\n")
	b.WriteString("  - rm -f /etc/ssh/sshd_config.d/50-cloud-init.conf\n")
	b.WriteString("  - systemctl restart ssh || systemctl restart sshd\n")
	return b.String(), nil
}
