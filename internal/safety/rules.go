package safety

import (
	"regexp"
	"slices"
	"strings"

	"github.com/felixgeelhaar/warden/internal/command"
)

// Rule is one entry of the classification table. Rules are evaluated in
// order and the first match wins.
type Rule struct {
	Name         string
	Tier         command.Tier
	TimeoutClass command.TimeoutClass
	Match        func(Line) bool
}

// DefaultRules returns the built-in table: destructive, then long-running,
// then interactive, then caution.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, 32)
	rules = append(rules, destructiveRules()...)
	rules = append(rules, longRunningRules()...)
	rules = append(rules, interactiveRules()...)
	rules = append(rules, cautionRules()...)
	return rules
}

func anyInvocation(pred func(Invocation) bool) func(Line) bool {
	return func(l Line) bool {
		for _, inv := range l.Invocations {
			if pred(inv) {
				return true
			}
		}
		return false
	}
}

func named(names ...string) func(Invocation) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(inv Invocation) bool { return set[inv.Name] }
}

func lowerMatches(re *regexp.Regexp) func(Line) bool {
	return func(l Line) bool { return re.MatchString(l.Lower) }
}

var (
	reDeviceWrite = regexp.MustCompile(`>\s*/dev/(sd[a-z]|hd[a-z]|nvme\d|xvd[a-z]|vd[a-z]|mmcblk\d|disk\d)`)
	reForkBomb    = regexp.MustCompile(`:\s*\(\s*\)\s*\{[^}]*:\s*\|\s*:\s*&`)
	rePipeToShell = regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`)
	reWhileTrue   = regexp.MustCompile(`\bwhile\s+(true|:|\[\s*1\s*\])`)
	reFormatDrive = regexp.MustCompile(`^format\s+[a-z]:`)
)

func recursiveForceDelete(inv Invocation) bool {
	if inv.Name != "rm" {
		return false
	}
	recursive := inv.HasFlag("-r", "-R", "--recursive")
	force := inv.HasFlag("-f", "--force")
	return recursive && force
}

func rawDiskWrite(inv Invocation) bool {
	if inv.Name != "dd" {
		return false
	}
	for _, a := range inv.Args {
		if strings.HasPrefix(a, "of=/dev/") && a != "of=/dev/null" {
			return true
		}
	}
	return false
}

func recursiveWorldWritable(inv Invocation) bool {
	if inv.Name != "chmod" || !inv.HasFlag("-R", "--recursive") {
		return false
	}
	for _, a := range inv.Positional() {
		if a == "777" || a == "0777" || a == "a+rwx" {
			return true
		}
	}
	return false
}

func powerControl(inv Invocation) bool {
	switch inv.Name {
	case "shutdown", "reboot", "halt", "poweroff":
		return true
	case "init":
		p := inv.Positional()
		return len(p) > 0 && (p[0] == "0" || p[0] == "6")
	case "systemctl":
		p := inv.Positional()
		return len(p) > 0 && (p[0] == "poweroff" || p[0] == "reboot" || p[0] == "halt")
	}
	return false
}

// moveRoot reports mv with the filesystem root as a source.
func moveRoot(inv Invocation) bool {
	if inv.Name != "mv" {
		return false
	}
	p := inv.Positional()
	for _, a := range p[:max(len(p)-1, 0)] {
		if a == "/" || a == "/*" {
			return true
		}
	}
	return false
}

// elevatedMutation reports a root-privileged command that deletes, wipes or
// kills without asking.
func elevatedMutation(inv Invocation) bool {
	if !inv.Elevated {
		return false
	}
	switch inv.Name {
	case "rm", "shred", "truncate", "dd", "wipefs":
		return true
	case "chmod", "chown", "chgrp":
		return inv.HasFlag("-R", "--recursive")
	case "kill":
		for _, a := range inv.Positional() {
			if a == "1" || a == "-1" {
				return true
			}
		}
		return inv.HasFlag("-9") && slices.Contains(inv.Args, "-1")
	case "killall", "pkill":
		return inv.HasFlag("-9", "-KILL")
	}
	return false
}

func destructiveRules() []Rule {
	d := func(name string, m func(Line) bool) Rule {
		return Rule{Name: name, Tier: command.TierDestructive, TimeoutClass: command.TimeoutNormal, Match: m}
	}
	return []Rule{
		d("recursive-force-delete", anyInvocation(recursiveForceDelete)),
		d("raw-disk-write", anyInvocation(rawDiskWrite)),
		d("device-redirect", lowerMatches(reDeviceWrite)),
		d("filesystem-format", anyInvocation(func(inv Invocation) bool {
			return strings.HasPrefix(inv.Name, "mkfs") || named("wipefs", "fdisk", "sfdisk", "parted", "gdisk")(inv)
		})),
		d("drive-format", lowerMatches(reFormatDrive)),
		d("fork-bomb", func(l Line) bool {
			return reForkBomb.MatchString(l.Lower) || strings.Contains(strings.Join(strings.Fields(l.Lower), ""), ":(){:|:&};:")
		}),
		d("recursive-world-writable", anyInvocation(recursiveWorldWritable)),
		d("power-control", anyInvocation(powerControl)),
		d("pipe-to-shell", lowerMatches(rePipeToShell)),
		d("move-root", anyInvocation(moveRoot)),
		d("elevated-mutation", anyInvocation(elevatedMutation)),
	}
}

func unboundedPing(inv Invocation) bool {
	return inv.Name == "ping" && !inv.HasFlag("-c", "-w", "--count")
}

func findFromRoot(inv Invocation) bool {
	if inv.Name != "find" {
		return false
	}
	p := inv.Positional()
	return len(p) > 0 && p[0] == "/"
}

func followTail(inv Invocation) bool {
	return inv.Name == "tail" && inv.HasFlag("-f", "-F", "--follow")
}

func longRunningRules() []Rule {
	lr := func(name string, m func(Line) bool) Rule {
		return Rule{Name: name, Tier: command.TierLongRunning, TimeoutClass: command.TimeoutExtended, Match: m}
	}
	return []Rule{
		lr("unbounded-ping", anyInvocation(unboundedPing)),
		lr("find-from-root", anyInvocation(findFromRoot)),
		lr("sleep", anyInvocation(named("sleep"))),
		lr("infinite-loop", lowerMatches(reWhileTrue)),
		lr("yes", anyInvocation(named("yes"))),
		lr("follow-tail", anyInvocation(followTail)),
		lr("watch", anyInvocation(named("watch"))),
	}
}

// sshOptsWithArg are ssh flags that consume the following word.
var sshOptsWithArg = map[string]bool{
	"-b": true, "-c": true, "-D": true, "-E": true, "-e": true, "-F": true,
	"-I": true, "-i": true, "-J": true, "-L": true, "-l": true, "-m": true,
	"-O": true, "-o": true, "-p": true, "-Q": true, "-R": true, "-S": true,
	"-W": true, "-w": true, "-B": true,
}

// interactiveSSH reports an ssh login with no remote command.
func interactiveSSH(inv Invocation) bool {
	if inv.Name != "ssh" {
		return false
	}
	positional := 0
	for i := 0; i < len(inv.Args); i++ {
		a := inv.Args[i]
		if strings.HasPrefix(a, "-") {
			if sshOptsWithArg[a] {
				i++
			}
			continue
		}
		positional++
	}
	return positional <= 1
}

func interactiveClient(inv Invocation) bool {
	switch inv.Name {
	case "mysql":
		return !inv.HasFlag("-e", "--execute")
	case "psql":
		return !inv.HasFlag("-c", "--command", "-f", "--file")
	case "mongo", "mongosh":
		return !inv.HasFlag("--eval")
	case "ftp", "sftp", "telnet":
		return true
	}
	return false
}

// bareShell reports a shell or REPL started without a script or command.
func bareShell(inv Invocation) bool {
	switch inv.Name {
	case "bash", "sh", "zsh", "fish", "dash", "ksh", "python", "python3", "node", "irb":
	default:
		return false
	}
	for _, a := range inv.Args {
		if a != "-l" && a != "-i" && a != "--login" {
			return false
		}
	}
	return true
}

func topLike(inv Invocation) bool {
	switch inv.Name {
	case "top":
		return !inv.HasFlag("-b", "-n")
	case "htop", "btop", "atop", "nmon":
		return true
	}
	return false
}

func interactiveRules() []Rule {
	it := func(name string, m func(Line) bool) Rule {
		return Rule{Name: name, Tier: command.TierInteractive, TimeoutClass: command.TimeoutNone, Match: m}
	}
	return []Rule{
		it("editor", anyInvocation(named("vim", "vi", "nvim", "nano", "emacs", "pico", "ed"))),
		it("pager", anyInvocation(named("less", "more", "most", "man"))),
		it("monitor", anyInvocation(topLike)),
		it("ssh-login", anyInvocation(interactiveSSH)),
		it("interactive-client", anyInvocation(interactiveClient)),
		it("bare-shell", anyInvocation(bareShell)),
	}
}

// installers maps package managers to the subcommands that change the system.
var installers = map[string][]string{
	"apt":     {"install", "remove", "purge", "upgrade", "full-upgrade", "dist-upgrade", "autoremove"},
	"apt-get": {"install", "remove", "purge", "upgrade", "dist-upgrade", "autoremove"},
	"yum":     {"install", "remove", "erase", "update", "upgrade"},
	"dnf":     {"install", "remove", "erase", "update", "upgrade"},
	"pip":     {"install", "uninstall"},
	"pip3":    {"install", "uninstall"},
	"npm":     {"install", "i", "uninstall"},
	"cargo":   {"install"},
	"gem":     {"install", "uninstall"},
	"brew":    {"install", "uninstall", "upgrade"},
	"snap":    {"install", "remove"},
	"apk":     {"add", "del"},
	"zypper":  {"install", "in", "remove", "rm"},
}

func packageChange(inv Invocation) bool {
	if inv.Name == "pacman" {
		for _, a := range inv.Args {
			if len(a) > 1 && a[0] == '-' && a[1] != '-' && strings.ContainsAny(a[1:2], "SRU") {
				return true
			}
		}
		return false
	}
	subs, ok := installers[inv.Name]
	if !ok {
		return false
	}
	p := inv.Positional()
	if len(p) == 0 {
		return false
	}
	for _, s := range subs {
		if p[0] == s {
			return true
		}
	}
	return false
}

func riskyMutation(inv Invocation) bool {
	switch inv.Name {
	case "rm":
		return inv.HasFlag("-r", "-R", "--recursive", "-f", "--force")
	case "chmod", "chown", "chgrp":
		return inv.HasFlag("-R", "--recursive")
	case "dd", "kill", "pkill", "killall", "truncate", "shred":
		return true
	case "git":
		p := inv.Positional()
		if len(p) == 0 {
			return false
		}
		switch p[0] {
		case "reset":
			return inv.HasFlag("--hard")
		case "clean":
			return inv.HasFlag("-f", "--force")
		case "push":
			return inv.HasFlag("-f", "--force", "--force-with-lease")
		}
	case "systemctl", "service":
		for _, a := range inv.Positional() {
			switch a {
			case "stop", "restart", "disable", "mask", "kill":
				return true
			}
		}
	case "docker", "podman":
		p := inv.Positional()
		return len(p) > 0 && (p[0] == "rm" || p[0] == "rmi" || p[0] == "prune" ||
			len(p) > 1 && p[1] == "prune")
	}
	return false
}

func cautionRules() []Rule {
	return []Rule{
		{Name: "package-change", Tier: command.TierCaution, TimeoutClass: command.TimeoutExtended, Match: anyInvocation(packageChange)},
		{Name: "elevated", Tier: command.TierCaution, TimeoutClass: command.TimeoutNormal, Match: anyInvocation(func(inv Invocation) bool { return inv.Elevated })},
		{Name: "risky-mutation", Tier: command.TierCaution, TimeoutClass: command.TimeoutNormal, Match: anyInvocation(riskyMutation)},
	}
}
