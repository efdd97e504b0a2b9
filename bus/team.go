package bus

import "fmt"

// ResolveTeam returns the addresses a robot of the given team answers on, in
// the order a client should try them.
func ResolveTeam(team int) []string {
	if team <= 0 {
		return nil
	}
	return []string{
		fmt.Sprintf("10.%d.%d.2", team/100, team%100),
		fmt.Sprintf("roborio-%d-frc.local", team),
		"172.22.11.2",
		fmt.Sprintf("roborio-%d-frc.lan", team),
		fmt.Sprintf("roborio-%d-frc.frc-field.local", team),
	}
}
