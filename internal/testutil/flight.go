package testutil

// Message type codes used by FlightLog.
const (
	TypeGPS  uint8 = 130
	TypeBAT  uint8 = 131
	TypeATT  uint8 = 132
	TypeVIBE uint8 = 133
	TypeERR  uint8 = 134
	TypeMODE uint8 = 135
	TypeRCIN uint8 = 136
	TypeUNIT uint8 = 137
	TypeFMTU uint8 = 138
)

// FlightSeconds is the number of one-second samples in FlightLog.
const FlightSeconds = 10

// FlightLog returns a ten second flight, sampled once per second from
// TimeUS 1s to 10s, with exactly one planted event per rule:
//
//	5s  altitude jumps 30 m in one second
//	6s  battery voltage drops 1.2 V
//	7s  GPS status falls to 1
//	8s  VibeX reaches 70
//	9s  ERR record (subsystem 3, code 1)
//	10s all RC channels read 800
//
// MODE changes at 1s (0) and 5s (5). UNIT and FMTU messages label GPS fields.
func FlightLog() []byte {
	b := NewLogBuilder()
	b.FMT(TypeUNIT, "UNIT", "QbZ", Labels("TimeUS", "Id", "Label"))
	b.FMT(TypeFMTU, "FMTU", "QBNN", Labels("TimeUS", "FmtType", "UnitIds", "MultIds"))
	b.FMT(TypeGPS, "GPS", "QBBLLeff", Labels("TimeUS", "Status", "NSats", "Lat", "Lng", "Alt", "Spd", "GCrs"))
	b.FMT(TypeBAT, "BAT", "QBffffc", Labels("TimeUS", "Inst", "Volt", "VoltR", "Curr", "CurrTot", "Temp"))
	b.FMT(TypeATT, "ATT", "QccccCC", Labels("TimeUS", "DesRoll", "Roll", "DesPitch", "Pitch", "DesYaw", "Yaw"))
	b.FMT(TypeVIBE, "VIBE", "QBfffI", Labels("TimeUS", "IMU", "VibeX", "VibeY", "VibeZ", "Clip"))
	b.FMT(TypeERR, "ERR", "QBB", Labels("TimeUS", "Subsys", "ECode"))
	b.FMT(TypeMODE, "MODE", "QMBB", Labels("TimeUS", "Mode", "ModeNum", "Rsn"))
	b.FMT(TypeRCIN, "RCIN", "QHHHHHHHH", Labels("TimeUS", "C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8"))

	const t0 = uint64(1_000_000)
	b.Record(TypeUNIT, t0, "s", "seconds")
	b.Record(TypeUNIT, t0, "m", "m")
	b.Record(TypeUNIT, t0, "n", "m/s")
	b.Record(TypeUNIT, t0, "-", "")
	b.Record(TypeFMTU, t0, int(TypeGPS), "s--DUmnh", "F--GGB--")

	altitudes := []float64{100, 105, 110, 115, 145, 150, 155, 160, 165, 170}
	volts := []float64{12.6, 12.5, 12.4, 12.3, 12.2, 11.0, 10.9, 10.8, 10.7, 10.6}

	for i := 1; i <= FlightSeconds; i++ {
		ts := uint64(i) * 1_000_000

		status, sats := 3, 10
		if i == 7 {
			status, sats = 1, 4
		}
		b.Record(TypeGPS, ts, status, sats, -35.3632621, 149.1652374, altitudes[i-1], 12.0, 90.0)
		b.Record(TypeBAT, ts, 0, volts[i-1], volts[i-1], 8.5, float64(i)*10, 35.5)
		b.Record(TypeATT, ts, 0.0, float64(i)*2, 0.0, 1.5, 90.0, 90.0)

		vibeX := 5.0
		if i == 8 {
			vibeX = 70.0
		}
		b.Record(TypeVIBE, ts, 0, vibeX, 5.0, 5.0, 0)

		if i == 1 || i == 5 {
			mode := 0
			if i == 5 {
				mode = 5
			}
			b.Record(TypeMODE, ts, mode, mode, 1)
		}
		if i == 9 {
			b.Record(TypeERR, ts, 3, 1)
		}

		pwm := 1500
		if i == 10 {
			pwm = 800
		}
		b.Record(TypeRCIN, ts, pwm, pwm, pwm, pwm, pwm, pwm, pwm, pwm)
	}
	return b.Bytes()
}

// ScenarioLog returns one GPS schema, three GPS records at TimeUS 0, 1000 and
// 2000, then one record of a type that was never declared.
func ScenarioLog() []byte {
	b := NewLogBuilder()
	b.FMT(TypeGPS, "GPS", "QBBLLeff", Labels("TimeUS", "Status", "NSats", "Lat", "Lng", "Alt", "Spd", "GCrs"))
	for i, alt := range []float64{10, 11, 12} {
		b.Record(TypeGPS, uint64(i*1000), 3, 9, 1.0, 2.0, alt, 3.0, 0.0)
	}
	b.Raw(0xA3, 0x95, 0x99, 1, 2, 3, 4)
	return b.Bytes()
}
