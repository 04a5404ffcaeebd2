package metrics

// Health domains. Pure metadata: membership only, no behavior.
const (
	DomainSleep               = "sleep"
	DomainCardiometabolic     = "cardiometabolic"
	DomainStressNervousSystem = "stress_nervous_system"
	DomainActivity            = "activity"
	DomainMetabolic           = "metabolic"
	DomainSubjective          = "subjective"
)

// Domains lists all known domains in a stable order.
func Domains() []string {
	return []string{
		DomainSleep,
		DomainCardiometabolic,
		DomainStressNervousSystem,
		DomainActivity,
		DomainMetabolic,
		DomainSubjective,
	}
}
