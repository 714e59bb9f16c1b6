package config

const schema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "baseDir": {"type": "string", "minLength": 1},
    "signDir": {"type": "string", "minLength": 1},
    "deployDir": {"type": "string", "minLength": 1},
    "archiveDir": {"type": "string", "minLength": 1},
    "installDir": {"type": "string"},
    "eclipseVersion": {"type": "string", "pattern": "^v?[0-9]+\\.[0-9]+(\\.[0-9]+)?$"},
    "supportedVersions": {
      "type": "array",
      "items": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+(\\.[0-9]+)?$"}
    },
    "stages": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "sign": {"type": "boolean"},
        "pack": {"type": "boolean"},
        "optimize": {"type": "boolean"}
      }
    },
    "dirsToSave": {"type": "integer", "minimum": 1},
    "alias": {"type": "string", "pattern": "^[^0-9/][^/]*$"},
    "mirrorsURL": {"type": "string"},
    "postProcessScript": {"type": "string"},
    "signing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "strategy": {"enum": ["external", "mock", "self"]},
        "command": {"type": "array", "items": {"type": "string"}, "minItems": 1},
        "pollInterval": {"type": "string"},
        "pollAttempts": {"type": "integer", "minimum": 1},
        "keystore": {"type": "string"},
        "storePass": {"type": "string"},
        "keyAlias": {"type": "string"}
      }
    },
    "metricsPushURL": {"type": "string"}
  }
}`
