package store

// DefaultSeed is the root organism installed when no seed file is
// configured. Each top-level function is a component the deliberation
// engine may target; the built-in regression suite exercises all of
// them, so any seed replacement must keep their contracts.
const DefaultSeed = `# organism.star -- root revision

def genome():
    """Identity of the organism: name, generation and traits."""
    return {"name": "autogs", "generation": 1, "traits": ["observe", "mutate", "verify"]}

def metabolize(pulses):
    """Fold a list of numeric pulses into an energy level.

    Negative pulses are inert and contribute nothing.
    """
    energy = 0
    for p in pulses:
        if p > 0:
            energy += p
    return energy

def replicate(count):
    """Produce count offspring descriptors linked to this organism."""
    offspring = []
    for i in range(count):
        offspring.append({"id": i, "parent": genome()["name"]})
    return offspring

def vitality():
    """Composite health score derived from the other components."""
    g = genome()
    base = len(g["traits"]) * 10
    return base + metabolize([1, 2, 3])
`
