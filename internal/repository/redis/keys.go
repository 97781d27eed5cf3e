package redis

import "fmt"

const ns = "raffle:v1"

func KeyCompetitionAvailability(competitionID int64) string {
	return fmt.Sprintf("%s:competition:%d:availability", ns, competitionID)
}

func KeyCompetitionNumbers(competitionID int64) string {
	return fmt.Sprintf("%s:competition:%d:numbers", ns, competitionID)
}

func KeyIdemHold(competitionID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:holds:%d:%s", ns, competitionID, idemKey)
}

func ChannelCompetitionsChanged() string {
	return ns + ":competitions:changed"
}
