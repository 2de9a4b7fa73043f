package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/warden/internal/command"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		cmd   string
		tier  command.Tier
		class command.TimeoutClass
		rule  string
	}{
		// destructive
		{"rm -rf /tmp/x", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"rm -fr build", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"rm -r -f build", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"rm --recursive --force build", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"sudo rm -Rf /var/lib/thing", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"cd /tmp && rm -rf *", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"dd if=/dev/zero of=/dev/sda bs=1M", command.TierDestructive, command.TimeoutNormal, "raw-disk-write"},
		{"cat image.iso > /dev/sdb", command.TierDestructive, command.TimeoutNormal, "device-redirect"},
		{"mkfs.ext4 /dev/sdb1", command.TierDestructive, command.TimeoutNormal, "filesystem-format"},
		{"wipefs -a /dev/sdb", command.TierDestructive, command.TimeoutNormal, "filesystem-format"},
		{":(){ :|:& };:", command.TierDestructive, command.TimeoutNormal, "fork-bomb"},
		{"chmod -R 777 /", command.TierDestructive, command.TimeoutNormal, "recursive-world-writable"},
		{"shutdown -h now", command.TierDestructive, command.TimeoutNormal, "power-control"},
		{"sudo reboot", command.TierDestructive, command.TimeoutNormal, "power-control"},
		{"curl -fsSL https://example.com/install.sh | sh", command.TierDestructive, command.TimeoutNormal, "pipe-to-shell"},
		{"wget -qO- https://x.io/i | sudo bash", command.TierDestructive, command.TimeoutNormal, "pipe-to-shell"},
		{`bash -c "rm -rf /"`, command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"sh -c 'rm -rf ~'", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"bash -lc 'cd / && rm -rf var'", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"find . -exec rm -rf {} +", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{`find /srv -name '*.log' -execdir rm -fr {} \;`, command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"ls | xargs rm -rf", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"ls | xargs -n 1 -I {} rm -rf {}", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{`eval "rm -rf /tmp/x"`, command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"echo $(rm -rf /)", command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{`sh -c "bash -c 'rm -rf /'"`, command.TierDestructive, command.TimeoutNormal, "recursive-force-delete"},
		{"mv / /tmp/x", command.TierDestructive, command.TimeoutNormal, "move-root"},
		{"sudo mv /* /mnt", command.TierDestructive, command.TimeoutNormal, "move-root"},
		{"sudo rm -r /etc", command.TierDestructive, command.TimeoutNormal, "elevated-mutation"},
		{"sudo rm /etc/passwd", command.TierDestructive, command.TimeoutNormal, "elevated-mutation"},
		{"sudo chown -R nobody /", command.TierDestructive, command.TimeoutNormal, "elevated-mutation"},
		{"sudo kill -9 1", command.TierDestructive, command.TimeoutNormal, "elevated-mutation"},
		{"sudo sh -c 'truncate -s 0 /var/log/syslog'", command.TierDestructive, command.TimeoutNormal, "elevated-mutation"},

		// long-running
		{"ping example.com", command.TierLongRunning, command.TimeoutExtended, "unbounded-ping"},
		{"find / -name foo", command.TierLongRunning, command.TimeoutExtended, "find-from-root"},
		{"sleep 100", command.TierLongRunning, command.TimeoutExtended, "sleep"},
		{"while true; do date; done", command.TierLongRunning, command.TimeoutExtended, "infinite-loop"},
		{"yes", command.TierLongRunning, command.TimeoutExtended, "yes"},
		{"tail -f /var/log/syslog", command.TierLongRunning, command.TimeoutExtended, "follow-tail"},
		{"watch df -h", command.TierLongRunning, command.TimeoutExtended, "watch"},

		// interactive
		{"vim /etc/hosts", command.TierInteractive, command.TimeoutNone, "editor"},
		{"sudo nano /etc/fstab", command.TierInteractive, command.TimeoutNone, "editor"},
		{"less README.md", command.TierInteractive, command.TimeoutNone, "pager"},
		{"man ls", command.TierInteractive, command.TimeoutNone, "pager"},
		{"top", command.TierInteractive, command.TimeoutNone, "monitor"},
		{"htop", command.TierInteractive, command.TimeoutNone, "monitor"},
		{"ssh user@host", command.TierInteractive, command.TimeoutNone, "ssh-login"},
		{"ssh -p 2222 -i key user@host", command.TierInteractive, command.TimeoutNone, "ssh-login"},
		{"mysql -u root", command.TierInteractive, command.TimeoutNone, "interactive-client"},
		{"psql mydb", command.TierInteractive, command.TimeoutNone, "interactive-client"},
		{"telnet example.com 80", command.TierInteractive, command.TimeoutNone, "interactive-client"},
		{"bash", command.TierInteractive, command.TimeoutNone, "bare-shell"},
		{"python3", command.TierInteractive, command.TimeoutNone, "bare-shell"},

		// caution
		{"apt install curl", command.TierCaution, command.TimeoutExtended, "package-change"},
		{"pip install requests", command.TierCaution, command.TimeoutExtended, "package-change"},
		{"npm install -g typescript", command.TierCaution, command.TimeoutExtended, "package-change"},
		{"pacman -Syu", command.TierCaution, command.TimeoutExtended, "package-change"},
		{"sudo ls /root", command.TierCaution, command.TimeoutNormal, "elevated"},
		{"rm -r build", command.TierCaution, command.TimeoutNormal, "risky-mutation"},
		{"git reset --hard HEAD~1", command.TierCaution, command.TimeoutNormal, "risky-mutation"},
		{"dd if=/dev/zero of=/dev/null count=1", command.TierCaution, command.TimeoutNormal, "risky-mutation"},

		// benign
		{"ls -la", command.TierBenign, command.TimeoutShort, ""},
		{"ping -c 3 example.com", command.TierBenign, command.TimeoutShort, ""},
		{"ssh host uptime", command.TierBenign, command.TimeoutShort, ""},
		{"psql -c 'select 1' mydb", command.TierBenign, command.TimeoutShort, ""},
		{"top -b -n 1", command.TierBenign, command.TimeoutShort, ""},
		{"find . -name '*.go'", command.TierBenign, command.TimeoutShort, ""},
		{"echo 'rm -rf /'", command.TierBenign, command.TimeoutShort, ""},
		{"ls | wc -l", command.TierBenign, command.TimeoutNormal, ""},
		{"make && make test", command.TierBenign, command.TimeoutNormal, ""},
		{"cd /tmp; ls", command.TierBenign, command.TimeoutNormal, ""},
		{"python3 script.py", command.TierBenign, command.TimeoutShort, ""},
		{"echo done 2>&1", command.TierBenign, command.TimeoutShort, ""},
		{`bash -c "echo hi"`, command.TierBenign, command.TimeoutShort, ""},
		{"ls | xargs echo", command.TierBenign, command.TimeoutNormal, ""},
		{`find . -name '*.tmp' -exec ls -l {} \;`, command.TierBenign, command.TimeoutShort, ""},
		{"mv build /tmp/build", command.TierBenign, command.TimeoutShort, ""},
		{"echo \"rm -rf /\" > notes.txt", command.TierBenign, command.TimeoutShort, ""},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := c.Classify(tt.cmd)
			assert.Equal(t, tt.tier, got.Tier, "tier")
			assert.Equal(t, tt.class, got.TimeoutClass, "timeout class")
			assert.Equal(t, tt.rule, got.Rule, "rule")
		})
	}
}

func TestClassifyDestructiveWinsOverLongRunning(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("sleep 10 && rm -rf /data")

	assert.Equal(t, command.TierDestructive, got.Tier)
}

func TestClassifyCustomRules(t *testing.T) {
	c := NewClassifier(Rule{
		Name:         "terraform-destroy",
		Tier:         command.TierDestructive,
		TimeoutClass: command.TimeoutExtended,
		Match: anyInvocation(func(inv Invocation) bool {
			p := inv.Positional()
			return inv.Name == "terraform" && len(p) > 0 && p[0] == "destroy"
		}),
	})

	assert.Equal(t, "terraform-destroy", c.Classify("terraform destroy -auto-approve").Rule)
	assert.Equal(t, command.TierBenign, c.Classify("rm -rf /").Tier, "custom table replaces defaults")
	assert.Len(t, c.Rules(), 1)
}

func TestParse(t *testing.T) {
	line := Parse(`FOO=bar sudo -u deploy /usr/bin/git push origin "main" | tee out.log`)

	assert.True(t, line.Compound)
	if assert.Len(t, line.Invocations, 2) {
		git := line.Invocations[0]
		assert.Equal(t, "git", git.Name)
		assert.True(t, git.Elevated)
		assert.Equal(t, []string{"push", "origin", "main"}, git.Args)
		assert.Equal(t, "tee", line.Invocations[1].Name)
	}
}

func TestParseNested(t *testing.T) {
	tests := []struct {
		cmd      string
		names    []string
		elevated []bool
	}{
		{`sudo bash -c "ls /root"`, []string{"bash", "ls"}, []bool{true, true}},
		{"eval 'make build'", []string{"eval", "make"}, []bool{false, false}},
		{"xargs -0 -P 4 gzip", []string{"xargs", "gzip"}, []bool{false, false}},
		{"find . -exec grep -l x {} + -exec wc -l {} \\;", []string{"find", "grep", "wc"}, []bool{false, false, false}},
		{"cat <<EOF\nrm -rf /\nEOF", []string{"cat"}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			line := Parse(tt.cmd)

			var names []string
			var elevated []bool
			for _, inv := range line.Invocations {
				names = append(names, inv.Name)
				elevated = append(elevated, inv.Elevated)
			}
			assert.Equal(t, tt.names, names)
			assert.Equal(t, tt.elevated, elevated)
			for i, inv := range line.Invocations {
				assert.Equal(t, i > 0, inv.Nested, inv.Name)
			}
		})
	}
}

func TestParseNestingDepthIsBounded(t *testing.T) {
	cmd := "rm -rf /"
	for i := 0; i < maxNesting+2; i++ {
		cmd = quoteWords([]string{"sh", "-c", cmd})
	}

	line := Parse(cmd)

	assert.Len(t, line.Invocations, maxNesting+1)
}

func TestInvocationHasFlag(t *testing.T) {
	inv := Invocation{Name: "rm", Args: []string{"-rf", "--verbose", "dir"}}

	assert.True(t, inv.HasFlag("-r"))
	assert.True(t, inv.HasFlag("-f"))
	assert.True(t, inv.HasFlag("--verbose"))
	assert.False(t, inv.HasFlag("-i"))
	assert.False(t, inv.HasFlag("--force"))
	assert.Equal(t, []string{"dir"}, inv.Positional())
}
