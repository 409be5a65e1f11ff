package singbox

// ClientTraffic represents traffic statistics for a specific client (user).
type ClientTraffic struct {
	Email string
	Up    int64
	Down  int64
}
