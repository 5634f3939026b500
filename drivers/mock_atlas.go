package drivers

// PairResponse scripts one status+payload answer for a MockPairDevice.
type PairResponse struct {
	Status  string
	Payload string
}

// MockPairDevice is a scripted stand-in for an I2C device. Responses are
// keyed by command; unmatched commands get the Fallback. Every query is
// recorded in Queries.
type MockPairDevice struct {
	Ready     bool
	Responses map[string]PairResponse
	Fallback  PairResponse
	FailWith  error

	Queries []string
}

func (m *MockPairDevice) IsSetUp() bool {
	return m.Ready
}

func (m *MockPairDevice) Close() error {
	m.Ready = false
	return nil
}

func (m *MockPairDevice) Query(cmd string) (string, string, error) {
	m.Queries = append(m.Queries, cmd)
	if m.FailWith != nil {
		return "", "", m.FailWith
	}
	if resp, found := m.Responses[cmd]; found {
		return resp.Status, resp.Payload, nil
	}
	return m.Fallback.Status, m.Fallback.Payload, nil
}

// MockLineDevice is a scripted stand-in for a serial device.
type MockLineDevice struct {
	Ready     bool
	Responses map[string][]string
	Fallback  []string
	FailWith  error

	Queries []string
}

func (m *MockLineDevice) IsSetUp() bool {
	return m.Ready
}

func (m *MockLineDevice) Close() error {
	m.Ready = false
	return nil
}

func (m *MockLineDevice) Query(cmd string) (string, []string, error) {
	m.Queries = append(m.Queries, cmd)
	if m.FailWith != nil {
		return "", nil, m.FailWith
	}
	if lines, found := m.Responses[cmd]; found {
		return StatusSuccess, lines, nil
	}
	return StatusSuccess, m.Fallback, nil
}
