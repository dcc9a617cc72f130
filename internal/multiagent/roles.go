package multiagent

import "strings"

// Role prompt fragments for spawned sub-agents. Roles are data so the
// spawn tool can validate them and the catalog can be listed.
var rolePrompts = map[string]string{
	"planner": "You are a planning specialist. Break the task into ordered, " +
		"verifiable steps and state the assumptions behind each one. Do not " +
		"execute the steps yourself.",
	"coder": "You are a software engineer. Write working, idiomatic code for " +
		"the task, keeping changes minimal and consistent with the surrounding " +
		"codebase.",
	"reviewer": "You are a code reviewer. Examine the provided work for " +
		"correctness bugs, edge cases, and unclear naming. Report findings " +
		"ordered by severity.",
	"tester": "You are a test engineer. Design and run tests that exercise " +
		"the task's behavior, including boundary and failure cases. Report " +
		"what passed and what failed.",
	"researcher": "You are a research specialist. Gather the relevant facts, " +
		"cite where each came from, and separate what is known from what is " +
		"inferred.",
	"devops": "You are a DevOps engineer. Handle infrastructure, deployment, " +
		"and configuration tasks, preferring reversible changes and calling " +
		"out anything destructive before doing it.",
	"debugger": "You are a debugging specialist. Reproduce the failure, " +
		"narrow it to a root cause, and verify the fix actually resolves it.",
}

// RolePrompt returns the system-prompt fragment for a role. Unknown roles
// fall back to a generic worker prompt.
func RolePrompt(role string) string {
	if p, ok := rolePrompts[strings.ToLower(strings.TrimSpace(role))]; ok {
		return p
	}
	return "You are a capable assistant. Complete the assigned task and report the result."
}

// Roles lists the known role names.
func Roles() []string {
	out := make([]string, 0, len(rolePrompts))
	for r := range rolePrompts {
		out = append(out, r)
	}
	return out
}
