package hal

// SysfsConfig locates the PWM channels exported through the Linux PWM class.
type SysfsConfig struct {
	// Chip is the pwmchip directory, e.g. /sys/class/pwm/pwmchip0.
	Chip string
	// Red and Blue are channel numbers on Chip.
	Red  int
	Blue int
	// PeriodNS is the PWM period in nanoseconds.
	PeriodNS uint32
	// Resolution is the number of duty bits exposed to callers.
	Resolution uint
}
