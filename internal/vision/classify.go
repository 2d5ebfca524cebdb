package vision

// Classify combines the ambient light level at the target, the distance
// between observer and target, and the observer's sensory capabilities into a
// visibility state. It is a pure function: identical inputs always yield the
// same output. Line of sight is a precondition checked by the caller, not
// here.
func Classify(light LightLevel, distance float64, caps Capabilities) VisibilityState {
	// No functioning vision at all: the target is hidden regardless of light.
	if caps.IsBlinded || !caps.HasVision {
		return StateHidden
	}

	// Dazzled entities treat everything as concealed (vision is assumed to be
	// their only precise sense).
	if caps.IsDazzled {
		return StateConcealed
	}

	switch light {
	case LightBright:
		return StateObserved
	case LightDim:
		if caps.HasLowLightVision {
			return StateObserved
		}
		return StateConcealed
	case LightDarkness:
		if caps.HasDarkvision && (caps.DarkvisionRange <= 0 || distance <= caps.DarkvisionRange) {
			return StateObserved
		}
		return StateHidden
	default:
		// Unknown light levels degrade to the safe classification.
		return StateHidden
	}
}
